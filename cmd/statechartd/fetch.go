package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"

	"github.com/dmitrymomot/statechart/pkg/machines/request"
)

// maxBodyPreview bounds how much of a response body is kept in the context.
const maxBodyPreview = 512

var (
	errInvalidURL     = errors.New("fetch payload must be an absolute http(s) URL")
	errBlockedAddress = errors.New("fetch target address is not public")
)

// fetchResult summarizes a completed GET.
type fetchResult struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Bytes       int64  `json:"bytes"`
	Preview     string `json:"preview"`
}

type fetchContext = request.Context[string, fetchResult]

// newFetchClient returns the client used for FETCH requests. Unless
// allowPrivate is set, connections to loopback, private, link-local and other
// non-public addresses are refused at dial time, which also covers redirects
// and names that resolve to internal hosts.
func newFetchClient(timeout time.Duration, allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	if !allowPrivate {
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			ap, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("%w: %s", errBlockedAddress, address)
			}
			if !isPublic(ap.Addr()) {
				return fmt.Errorf("%w: %s", errBlockedAddress, ap.Addr())
			}
			return nil
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsValid() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsUnspecified() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsInterfaceLocalMulticast() &&
		!ip.IsMulticast()
}

// fetchURL performs a GET of the FETCH payload. Non-2xx statuses are errors.
func fetchURL(client *http.Client) request.Func[string, fetchResult] {
	return func(ctx context.Context, raw string) (fetchResult, error) {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fetchResult{}, fmt.Errorf("%w: %q", errInvalidURL, raw)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fetchResult{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fetchResult{}, err
		}
		defer resp.Body.Close()

		preview := make([]byte, maxBodyPreview)
		n, err := io.ReadFull(resp.Body, preview)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return fetchResult{}, err
		}
		rest, err := io.Copy(io.Discard, resp.Body)
		if err != nil {
			return fetchResult{}, err
		}

		res := fetchResult{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Bytes:       int64(n) + rest,
			Preview:     string(preview[:n]),
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return res, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return res, nil
	}
}
