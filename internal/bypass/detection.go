package bypass

import (
	"bytes"
	"net/http"
	"slices"
	"strings"
)

// Page is the part of an HTTP response the detectors look at.
type Page struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Signature describes how a bot protection vendor answers a blocked or
// challenged request. A page matches when its status is one of Statuses and
// any of the server tokens, headers or body markers is present.
type Signature struct {
	Vendor       string
	Statuses     []int
	ServerTokens []string
	Headers      []string
	BodyMarkers  [][]byte
}

// Detector examines a page and reports the vendor that challenged it.
type Detector func(p *Page) (detected bool, vendor string)

var defaultSignatures = []Signature{
	{
		Vendor:       "Cloudflare",
		Statuses:     []int{http.StatusForbidden, http.StatusServiceUnavailable},
		ServerTokens: []string{"cloudflare"},
		BodyMarkers: [][]byte{
			[]byte("cf-browser-verification"),
			[]byte("cloudflare-nginx"),
			[]byte("cf-turnstile"),
			[]byte("Attention Required! | Cloudflare"),
		},
	},
	{
		Vendor:       "Akamai",
		Statuses:     []int{http.StatusForbidden},
		ServerTokens: []string{"akamai"},
	},
	{
		Vendor:       "DataDome",
		Statuses:     []int{http.StatusForbidden},
		ServerTokens: []string{"datadome"},
		Headers:      []string{"X-DataDome", "X-DataDome-Response"},
		BodyMarkers: [][]byte{
			[]byte("geo.captcha-delivery.com"),
			[]byte("datadome"),
		},
	},
	{
		Vendor:   "PerimeterX",
		Statuses: []int{http.StatusForbidden},
		Headers:  []string{"X-Px-Captcha"},
		BodyMarkers: [][]byte{
			[]byte("client.perimeterx.net"),
			[]byte("px-captcha"),
			[]byte("_pxBlock"),
		},
	},
}

// DefaultDetectors returns the detectors for the vendors seen most often in
// front of article and documentation sites.
func DefaultDetectors() []Detector {
	detectors := make([]Detector, 0, len(defaultSignatures)+1)
	for _, sig := range defaultSignatures {
		detectors = append(detectors, sig.Match)
	}
	// Akamai's block page carries no vendor token, only a reference number
	detectors = append(detectors, detectAkamaiReference)
	return detectors
}

// Detect runs the page through the detectors and returns the first vendor
// that matched, or the empty string.
func Detect(p *Page, detectors []Detector) string {
	if p == nil {
		return ""
	}
	for _, d := range detectors {
		if ok, vendor := d(p); ok {
			return vendor
		}
	}
	return ""
}

// Match reports whether the page carries this signature.
func (s Signature) Match(p *Page) (bool, string) {
	if !slices.Contains(s.Statuses, p.StatusCode) {
		return false, ""
	}

	server := strings.ToLower(p.Header.Get("Server"))
	for _, token := range s.ServerTokens {
		if strings.Contains(server, token) {
			return true, s.Vendor
		}
	}
	for _, h := range s.Headers {
		if p.Header.Get(h) != "" {
			return true, s.Vendor
		}
	}
	for _, marker := range s.BodyMarkers {
		if bytes.Contains(p.Body, marker) {
			return true, s.Vendor
		}
	}
	return false, ""
}

func detectAkamaiReference(p *Page) (bool, string) {
	if p.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if bytes.Contains(p.Body, []byte("Reference #")) && bytes.Contains(p.Body, []byte("Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}
