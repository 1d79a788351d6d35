package fetcher

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   Classification
	}{
		{
			name:   "clean page",
			status: http.StatusOK,
			body:   "<html><body><table class='race'></table></body></html>",
			want:   Classification{},
		},
		{
			name:   "incapsula interstitial",
			status: http.StatusOK,
			body:   "<html><iframe src='/_Incapsula_Resource?SWJIYLWA=...'></iframe></html>",
			want:   Classification{Challenge: true},
		},
		{
			name:   "hcaptcha widget",
			status: http.StatusOK,
			body:   `<div class="h-captcha" data-sitekey="abc"></div>`,
			want:   Classification{Challenge: true},
		},
		{
			name:   "imperva wording",
			status: http.StatusOK,
			body:   "Request unsuccessful. Imperva incident ID: 42",
			want:   Classification{Challenge: true},
		},
		{
			name:   "access denied page",
			status: http.StatusOK,
			body:   "<h1>Access Denied</h1>",
			want:   Classification{Blocked: true},
		},
		{
			name:   "forbidden status without markers",
			status: http.StatusForbidden,
			body:   "<html></html>",
			want:   Classification{Blocked: true},
		},
		{
			name:   "rate limited status",
			status: http.StatusTooManyRequests,
			body:   "",
			want:   Classification{Blocked: true},
		},
		{
			name:   "explicit no data",
			status: http.StatusOK,
			body:   "<p>No Data Available for this selection</p>",
			want:   Classification{NoData: true},
		},
		{
			name:   "no races scheduled",
			status: http.StatusOK,
			body:   "There are no entries for this date.",
			want:   Classification{NoData: true},
		},
		{
			name:   "challenge wins over blocked heuristics",
			status: http.StatusForbidden,
			body:   "checking your browser... incapsula",
			want:   Classification{Challenge: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.status, []byte(tt.body)))
		})
	}
}
