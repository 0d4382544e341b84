package extract

import (
	"net/url"
	"path"
	"strings"
)

// skipDomains host platforms whose pages are login walls, players or
// feeds rather than readable documents.
var skipDomains = []string{
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"linkedin.com",
	"youtube.com",
	"youtu.be",
	"tiktok.com",
	"pinterest.com",
}

// skipExtensions are media, archive and binary paths with no text to extract.
var skipExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true,
	".mp4": true, ".mp3": true, ".avi": true, ".mov": true, ".wav": true,
	".zip": true, ".gz": true, ".tar": true,
	".exe": true, ".dmg": true, ".iso": true,
}

// Extractable reports whether rawURL passes the static policy: an absolute
// http(s) URL outside the skip domains whose path does not end in a skipped
// extension. It never touches the network.
func Extractable(rawURL string) bool {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return false
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, d := range skipDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return false
		}
	}

	ext := strings.ToLower(path.Ext(u.Path))
	return !skipExtensions[ext]
}
