// Copyright 2023 The Outline Authors
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

package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"os"
	"path"
	"strings"
	"time"

	"github.com/Jigsaw-Code/proxyagent/agent"
	"github.com/Jigsaw-Code/proxyagent/httpproxy"
	"github.com/Jigsaw-Code/proxyagent/proxyconfig"
	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

type stringArrayFlagValue []string

func (v *stringArrayFlagValue) String() string {
	return fmt.Sprint(*v)
}

func (v *stringArrayFlagValue) Set(value string) error {
	*v = append(*v, value)
	return nil
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags...] <url>\n", path.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

// newResolver builds the resolver from the flags. A config file or explicit proxy takes
// precedence over the environment.
func newResolver(mode proxyconfig.Mode, configFile, httpProxy, httpsProxy, noProxy string) (*proxyconfig.Resolver, error) {
	opts := []proxyconfig.ResolverOption{proxyconfig.WithMode(mode)}
	switch {
	case configFile != "":
		cfg, err := proxyconfig.LoadFile(configFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, proxyconfig.WithConfig(cfg))
	case httpProxy != "" || httpsProxy != "":
		cfg, err := proxyconfig.NewConfig(httpProxy, httpsProxy, noProxy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, proxyconfig.WithConfig(cfg))
	}
	return proxyconfig.NewResolver(opts...)
}

// newRequest builds the request to fetch. Tabs and line breaks pasted into the URL are dropped.
func newRequest(method, rawURL string, headerLines []string) (*http.Request, error) {
	target, err := httpproxy.ParseTargetURL(rawURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, target.String(), nil)
	if err != nil {
		return nil, err
	}
	headerText := strings.Join(headerLines, "\r\n") + "\r\n\r\n"
	h, err := textproto.NewReader(bufio.NewReader(strings.NewReader(headerText))).ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("invalid header line: %w", err)
	}
	for name, values := range h {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	return req, nil
}

func main() {
	verboseFlag := flag.Bool("v", false, "Enable debug output")
	methodFlag := flag.String("method", "GET", "The HTTP method to use")
	var headersFlag stringArrayFlagValue
	flag.Var(&headersFlag, "H", "Raw HTTP Header line to add. It must not end in \\r\\n")
	timeoutSecFlag := flag.Int("timeout", 5, "Timeout in seconds")
	tunnelTimeoutFlag := flag.Duration("tunnel-timeout", 0, "Maximum wait for the proxy to answer a CONNECT request. Zero means no limit")
	configFlag := flag.String("proxy-config", "", "YAML file with http_proxy, https_proxy and no_proxy settings")
	httpProxyFlag := flag.String("http-proxy", "", "Proxy for http URLs")
	httpsProxyFlag := flag.String("https-proxy", "", "Proxy for https URLs")
	noProxyFlag := flag.String("no-proxy", "", "Comma-separated hosts that bypass the proxies")
	modeFlag := proxyconfig.RegisterFlags(flag.CommandLine)

	flag.Parse()

	logLevel := slog.LevelInfo
	if *verboseFlag {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(
		os.Stderr,
		&tint.Options{NoColor: !term.IsTerminal(int(os.Stderr.Fd())), Level: logLevel},
	)))

	url := flag.Arg(0)
	if url == "" {
		slog.Error("Need to pass the URL to fetch in the command-line")
		flag.Usage()
		os.Exit(1)
	}

	// The command line wins over USE_ENV_PROXY.
	mode := modeFlag.Or(proxyconfig.ModeFromRuntime(os.LookupEnv))
	resolver, err := newResolver(mode, *configFlag, *httpProxyFlag, *httpsProxyFlag, *noProxyFlag)
	if err != nil {
		slog.Error("Invalid proxy configuration", "error", err, "code", httpproxy.ErrorCode(err))
		os.Exit(1)
	}

	proxyAgent, err := agent.New(
		agent.WithResolver(resolver),
		agent.WithTunnelTimeout(*tunnelTimeoutFlag),
	)
	if err != nil {
		slog.Error("Could not create agent", "error", err)
		os.Exit(1)
	}
	httpClient := &http.Client{
		Transport: proxyAgent,
		Timeout:   time.Duration(*timeoutSecFlag) * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer proxyAgent.CloseIdleConnections()

	req, err := newRequest(*methodFlag, url, headersFlag)
	if err != nil {
		slog.Error("Failed to create request", "error", err)
		os.Exit(1)
	}
	if decision, err := resolver.Resolve(req.URL); err == nil {
		slog.Debug("Route", "url", req.URL.Redacted(), "decision", decision)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		slog.Error("HTTP request failed", "error", err, "code", httpproxy.ErrorCode(err))
		os.Exit(1)
	}
	defer resp.Body.Close()

	if *verboseFlag {
		slog.Info("HTTP Proto", "version", resp.Proto)
		slog.Info("HTTP Status", "status", resp.Status)
		for k, v := range resp.Header {
			slog.Debug("Header", "key", k, "value", v)
		}
	}

	_, err = io.Copy(os.Stdout, resp.Body)
	fmt.Println()
	if err != nil {
		slog.Error("Read of page body failed", "error", err, "code", httpproxy.ErrorCode(err))
		os.Exit(1)
	}
}
