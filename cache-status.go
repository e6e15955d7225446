package offlinecache

import (
	"fmt"

	"github.com/0ri0nRo/offline-cache/pkg/route"
	"github.com/0ri0nRo/offline-cache/pkg/strategy"
)

// CacheStatusHeader is added to responses served in proxy mode.
const CacheStatusHeader = "Cache-Status"

const cacheName = "OfflineCache"

type CacheStatusStatus string

const (
	CacheStatusHit CacheStatusStatus = "hit"
	CacheStatusFwd CacheStatusStatus = "fwd"
)

type CacheStatusFwdReason string

const (
	// The cache was configured to not handle this request.
	CacheStatusFwdBypass CacheStatusFwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	CacheStatusFwdMethod CacheStatusFwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	CacheStatusFwdUriMiss CacheStatusFwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	CacheStatusFwdMiss CacheStatusFwdReason = "miss"

	// Live data always goes to the network first.
	CacheStatusFwdRequest CacheStatusFwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	CacheStatusFwdStale CacheStatusFwdReason = "stale"
)

// Details explaining where a response came from when the network failed.
const (
	detailOffline  = "offline"
	detailFallback = "fallback"
)

type CacheStatus struct {
	status    CacheStatusStatus
	detail    string
	fwdReason CacheStatusFwdReason
	stored    bool
}

func (cs *CacheStatus) Hit() {
	cs.status = CacheStatusHit
}

func (cs *CacheStatus) Forward(reason CacheStatusFwdReason) {
	cs.status = CacheStatusFwd
	cs.fwdReason = reason
}

func (cs *CacheStatus) Stored() {
	cs.stored = true
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs CacheStatus) IsHit() bool {
	return cs.status == CacheStatusHit
}

func (cs CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cacheName, cs.status)
	if cs.status == CacheStatusFwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.stored {
		status += "; stored"
	}
	if cs.detail != "" {
		status += "; detail=" + cs.detail
	}
	return status
}

// cacheStatusFor describes how a request with the given disposition was answered.
func cacheStatusFor(d route.Disposition, methodGET bool, outcome strategy.Outcome) CacheStatus {
	var cs CacheStatus
	switch {
	case d == route.Passthrough && !methodGET:
		cs.Forward(CacheStatusFwdMethod)
	case d == route.Passthrough:
		cs.Forward(CacheStatusFwdBypass)
	case outcome.Hit && outcome.NetworkErr != nil:
		cs.Hit()
		cs.Detail(detailOffline)
	case outcome.Hit:
		cs.Hit()
	case outcome.Fallback && outcome.Stale:
		cs.Forward(CacheStatusFwdStale)
		cs.Detail(detailFallback)
	case outcome.Fallback:
		cs.Forward(CacheStatusFwdMiss)
		cs.Detail(detailFallback)
	case d == route.NetworkFirst:
		cs.Forward(CacheStatusFwdRequest)
	default:
		cs.Forward(CacheStatusFwdUriMiss)
	}
	if outcome.Stored {
		cs.Stored()
	}
	return cs
}
