// Copyright 2024 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package httpproxy implements both ends of HTTP forward proxying.

On the client side, [ConnectClient] opens CONNECT tunnels through a proxy, [PrepareForwardRequest]
and [WriteForwardRequest] rewrite plain HTTP requests into the absolute form a proxy expects, and
[ErrorCode] classifies the resulting failures into short codes such as "ECONNREFUSED" or
"ERR_PROXY_TUNNEL".

On the server side, [NewProxyHandler] returns a [net/http.Handler] that serves CONNECT and absolute
URL requests with any [transport.StreamDialer].

# Important Security Considerations

The handlers are designed for private forward proxies, typically running on localhost next to an application.
They are not suitable for public-facing proxies:

  - Authentication: [WithBasicAuth] only offers a shared password, sent in the clear unless the listener uses TLS.
  - Protection of Local Resources: The dialer used by the handlers should refuse connections to localhost and the local network.
  - Resource Limits: There are no per-client limits on connections or bandwidth.
*/
package httpproxy
