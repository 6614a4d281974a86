package client_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/pkg/client"
)

// Callers outside this module only import pkg/client.
func TestPublicTypes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("cannot bind loopback listener")
	}
	ln.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/alert":
			json.NewEncoder(w).Encode(client.Outcome{Kind: client.OutcomeLabeled, RuleID: 42, Workload: "web-0", Namespace: "shop"})
		case "/labeled-pods":
			json.NewEncoder(w).Encode([]client.LabeledWorkload{{Name: "web-0", Namespace: "shop", Label: "aislamiento-completo"}})
		}
	}))
	defer srv.Close()

	c := client.NewClient(client.Config{Endpoint: srv.URL}, logrus.New())

	out, err := c.SendAlert(context.Background(), []byte(`{"signature_id":42,"src_ip":"10.0.0.1"}`))
	if err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	var kind client.OutcomeKind = out.Kind
	if kind != client.OutcomeLabeled {
		t.Errorf("Kind = %s", kind)
	}

	pods, err := c.Labeled(context.Background())
	if err != nil {
		t.Fatalf("Labeled: %v", err)
	}
	if len(pods) != 1 || pods[0].Label != "aislamiento-completo" {
		t.Errorf("pods = %+v", pods)
	}
}
