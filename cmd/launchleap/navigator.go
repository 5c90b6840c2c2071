package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/lifecycle"
)

// hintNavigator turns lifecycle routes into suggested next commands.
type hintNavigator struct {
	mu      sync.Mutex
	out     io.Writer
	visited chan string
}

func newHintNavigator(out io.Writer) *hintNavigator {
	return &hintNavigator{out: out, visited: make(chan string, 8)}
}

func (n *hintNavigator) Navigate(route string) {
	n.mu.Lock()
	fmt.Fprintf(n.out, "next: %s\n", commandForRoute(route))
	n.mu.Unlock()
	select {
	case n.visited <- route:
	default:
	}
}

// await returns the next route navigated to.
func (n *hintNavigator) await(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case route := <-n.visited:
		return route, nil
	case <-timer.C:
		return "", errNavigationTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func commandForRoute(route string) string {
	switch {
	case route == lifecycle.RouteHome:
		return "launchleap tools trending"
	case route == lifecycle.RouteProfileSetup:
		return "launchleap profile update --username <name>"
	case strings.HasPrefix(route, "/profile/"):
		username, err := url.PathUnescape(strings.TrimPrefix(route, "/profile/"))
		if err != nil {
			username = strings.TrimPrefix(route, "/profile/")
		}
		return "launchleap profile show " + username
	default:
		return route
	}
}
