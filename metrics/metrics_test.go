package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersExposed(t *testing.T) {
	PayloadTransitionsTotal.WithLabelValues("0", "fpga_on").Inc()
	IPMIRequestsTotal.WithLabelValues("0x06", "0x00").Inc()

	if got := testutil.ToFloat64(PayloadTransitionsTotal.WithLabelValues("0", "fpga_on")); got < 1 {
		t.Errorf("transitions counter = %v, want >= 1", got)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"mmcd_payload_transitions_total", "mmcd_ipmi_requests_total", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("exposition missing %s", name)
		}
	}
}
