package checkpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// Source schemes.
const (
	SchemeHF    = "hf"
	SchemeHTTPS = "https"
	SchemeHTTP  = "http"
	SchemeS3    = "s3"
)

// DefaultSource is the LaMa ONNX export on the model hub.
const DefaultSource = "hf://ardiantovn/big-lama/big-lama.onnx"

// DefaultHubURL is the model hub base URL used to resolve hf:// sources.
const DefaultHubURL = "https://huggingface.co"

// Source is a parsed checkpoint location.
type Source struct {
	Scheme string
	// URL is set for hf, http and https sources.
	URL string
	// Bucket and Key are set for s3 sources.
	Bucket string
	Key    string
}

func (s Source) String() string {
	if s.Scheme == SchemeS3 {
		return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key)
	}
	return s.URL
}

// ParseSource parses hf://<owner>/<repo>/<file>, http(s)://... and
// s3://<bucket>/<key>. hf sources resolve against hubURL on the main
// revision.
func ParseSource(raw, hubURL string) (Source, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Source{}, fmt.Errorf("invalid checkpoint source %q: %w", raw, err)
	}
	if hubURL == "" {
		hubURL = DefaultHubURL
	}

	switch u.Scheme {
	case SchemeHF:
		// owner is the host, the repo name and file path follow
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
		if u.Host == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Source{}, fmt.Errorf("invalid hub source %q, expected hf://<owner>/<repo>/<file>", raw)
		}
		return Source{
			Scheme: SchemeHF,
			URL:    fmt.Sprintf("%s/%s/%s/resolve/main/%s", strings.TrimRight(hubURL, "/"), u.Host, parts[0], parts[1]),
		}, nil
	case SchemeHTTP, SchemeHTTPS:
		if u.Host == "" {
			return Source{}, fmt.Errorf("invalid checkpoint URL %q", raw)
		}
		return Source{Scheme: u.Scheme, URL: u.String()}, nil
	case SchemeS3:
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Source{}, fmt.Errorf("invalid s3 source %q, expected s3://<bucket>/<key>", raw)
		}
		return Source{Scheme: SchemeS3, Bucket: u.Host, Key: key}, nil
	}
	return Source{}, fmt.Errorf("unsupported checkpoint source scheme %q", u.Scheme)
}
