package geo

import (
	"errors"
	"testing"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     string
		wantCode string
	}{
		{name: "descriptor with trailing text", raw: "1.2.3.4 [San Francisco, US] extra", want: "San Francisco, US"},
		{name: "multibyte descriptor", raw: "114.114.114.114 [江苏省南京市 南京信风网络科技有限公司GreatbitDNS服务器]\n", want: "江苏省南京市 南京信风网络科技有限公司GreatbitDNS服务器"},
		{name: "empty descriptor", raw: "1.2.3.4 []", want: ""},
		{name: "first marker wins", raw: "a [one] b [two]", want: "one"},
		{name: "bracket before marker is ignored", raw: "x] 1.1.1.1 [Here]", want: "Here"},
		{name: "marker needs leading space", raw: "1.2.3.4[Nowhere]", wantCode: ErrorCodeNoLocationMarker},
		{name: "no marker", raw: "1.2.3.4", wantCode: ErrorCodeNoLocationMarker},
		{name: "unterminated", raw: "1.2.3.4 [San Francisco", wantCode: ErrorCodeUnterminatedLocation},
		{name: "empty output", raw: "", wantCode: ErrorCodeEmptyOutput},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLocation([]byte(tc.raw))
			if tc.wantCode != "" {
				if err == nil {
					t.Fatalf("ParseLocation() = %q, want error %s", got, tc.wantCode)
				}
				if code := Code(err); code != tc.wantCode {
					t.Fatalf("Code(err) = %q, want %q", code, tc.wantCode)
				}
				if !errors.Is(err, ErrLookupFailed) {
					t.Fatalf("errors.Is(err, ErrLookupFailed) = false for %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLocation() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("ParseLocation() = %q, want %q", got, tc.want)
			}
		})
	}
}
