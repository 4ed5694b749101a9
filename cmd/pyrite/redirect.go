package main

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
)

// redirect is a server-requested move to another group or server.
type redirect struct {
	url   string
	group string
}

// redirector turns redirect notices into reconnects handled by main.
type redirector struct {
	targets chan redirect
	logger  *zap.SugaredLogger
}

func newRedirector(logger *zap.SugaredLogger) *redirector {
	return &redirector{targets: make(chan redirect, 1), logger: logger}
}

// Navigate runs on the session loop and must not block.
func (r *redirector) Navigate(target string) {
	next, err := resolveRedirect(target)
	if err != nil {
		r.logger.Warnw("ignoring redirect", "target", target, "error", err)
		return
	}
	select {
	case r.targets <- next:
	default:
		r.logger.Warnw("redirect already pending, dropping", "target", target)
	}
}

// resolveRedirect maps a group page URL such as https://host/group/name/ to
// the websocket endpoint and group name. A ws(s) URL is used as is.
func resolveRedirect(target string) (redirect, error) {
	u, err := url.Parse(target)
	if err != nil {
		return redirect{}, err
	}

	switch u.Scheme {
	case "ws", "wss":
		return redirect{url: u.String()}, nil
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return redirect{}, fmt.Errorf("unsupported redirect scheme %q", u.Scheme)
	}

	trimmed := strings.Trim(u.Path, "/")
	if !strings.HasPrefix(trimmed, "group/") {
		return redirect{}, fmt.Errorf("redirect %q does not name a group", target)
	}
	group := strings.TrimPrefix(trimmed, "group/")

	u.Path = path.Join("/", "ws")
	u.RawQuery = ""
	u.Fragment = ""
	return redirect{url: u.String(), group: group}, nil
}
