// Copyright 2025 The Outline Authors
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
Package proxyconfig decides which proxy, if any, each outgoing request must use.

The configuration comes in layers. A [Mode], usually from the -use-env-proxy and
-no-use-env-proxy flags or the USE_ENV_PROXY variable, can turn the whole thing off or enable the
process environment. A [Config] can be set explicitly, in code or from a YAML file. A per-agent
environment can replace the process one. The [Resolver] combines them for every request.

The environment variables follow the common convention: http_proxy and https_proxy select the
proxy by target scheme, no_proxy lists the exceptions (see package noproxy), and the lower-case
name wins over the upper-case one.
*/
package proxyconfig
