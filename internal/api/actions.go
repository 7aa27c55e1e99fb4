package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/webspider/internal/sitetree"
	"github.com/JakeFAU/webspider/internal/spider"
	"github.com/JakeFAU/webspider/internal/urlcanon"
)

var (
	// ErrUnknownTarget reports a scan URL with no node in the site tree.
	ErrUnknownTarget = errors.New("target URL is not in the site tree")
	// ErrScanAlreadyRunning reports a second scan of a target that is still
	// running or paused.
	ErrScanAlreadyRunning = errors.New("a scan is already running for this target")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

type siteRequest struct {
	URL string `json:"url"`
}

type scanRequest struct {
	URL                string   `json:"url"`
	Recurse            bool     `json:"recurse"`
	InScopeOnly        bool     `json:"in_scope_only"`
	Name               string   `json:"name"`
	User               string   `json:"user"`
	MaxDepth           *int     `json:"max_depth"`
	Concurrency        *int     `json:"concurrency"`
	ParameterHandling  string   `json:"parameter_handling"`
	HandleOData        *bool    `json:"handle_odata"`
	MaxChildren        *int     `json:"max_children"`
	MaxDurationSeconds *int     `json:"max_duration_seconds"`
	Include            []string `json:"include"`
}

func (s *Server) registerNode(ctx context.Context, rawURL string) (*spider.Node, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: url required", ErrInvalidRequest)
	}
	node, err := s.sites.Register(ctx, rawURL)
	if err != nil {
		if errors.Is(err, sitetree.ErrNotCrawlable) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("register site: %w", err)
	}
	return node, nil
}

// startScan resolves the request against the site tree and hands it to the
// controller.
func (s *Server) startScan(req scanRequest) (int, error) {
	if req.URL == "" && !req.InScopeOnly {
		return 0, fmt.Errorf("%w: url required unless in_scope_only is set", ErrInvalidRequest)
	}
	opts, err := scanOptions(req)
	if err != nil {
		return 0, err
	}
	scanCtx, err := scanContext(req.Include)
	if err != nil {
		return 0, err
	}

	target := spider.Target{
		Context:     scanCtx,
		Recurse:     req.Recurse,
		InScopeOnly: req.InScopeOnly,
	}
	if req.URL != "" {
		node, ok := s.sites.FindNode(req.URL)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownTarget, req.URL)
		}
		target.StartNode = node
	}
	var user *spider.User
	if req.User != "" {
		user = &spider.User{Name: req.User}
		target.User = user
	}
	name := req.Name
	if name == "" {
		name = targetLabel(target)
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()
	for _, scan := range s.scans.AllScans() {
		if !scanRunning(scan) {
			continue
		}
		if sameTarget(scan.Target(), target) {
			return 0, fmt.Errorf("%w: scan %d", ErrScanAlreadyRunning, scan.ID())
		}
	}
	return s.scans.StartScan(name, target, user, opts...), nil
}

func scanRunning(scan *spider.Scan) bool {
	st := scan.State()
	return (st == spider.StateRunning || st == spider.StatePaused) && !scan.IsStopped()
}

func sameTarget(a, b spider.Target) bool {
	if a.StartNode == nil || b.StartNode == nil {
		return a.StartNode == nil && b.StartNode == nil && a.InScopeOnly && b.InScopeOnly
	}
	return a.StartNode.URI == b.StartNode.URI
}

func targetLabel(t spider.Target) string {
	if t.StartNode != nil {
		return t.StartNode.URI
	}
	return "in scope"
}

func scanOptions(req scanRequest) ([]spider.Option, error) {
	var opts []spider.Option
	if req.MaxDepth != nil {
		if *req.MaxDepth < 0 {
			return nil, fmt.Errorf("%w: max_depth must be >= 0", ErrInvalidRequest)
		}
		opts = append(opts, spider.WithMaxDepth(*req.MaxDepth))
	}
	if req.Concurrency != nil {
		if *req.Concurrency <= 0 {
			return nil, fmt.Errorf("%w: concurrency must be > 0", ErrInvalidRequest)
		}
		opts = append(opts, spider.WithConcurrency(*req.Concurrency))
	}
	if req.ParameterHandling != "" {
		handling, err := urlcanon.ParseParamHandling(req.ParameterHandling)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		opts = append(opts, spider.WithParamHandling(handling))
	}
	if req.HandleOData != nil {
		opts = append(opts, spider.WithODataAware(*req.HandleOData))
	}
	if req.MaxChildren != nil {
		opts = append(opts, spider.WithMaxChildren(*req.MaxChildren))
	}
	if req.MaxDurationSeconds != nil {
		opts = append(opts, spider.WithMaxDuration(time.Duration(*req.MaxDurationSeconds)*time.Second))
	}
	return opts, nil
}

func scanContext(patterns []string) (*spider.Context, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	c := &spider.Context{Name: "request"}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: include %q: %w", ErrInvalidRequest, p, err)
		}
		c.Include = append(c.Include, re)
	}
	return c, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, ErrScanAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
