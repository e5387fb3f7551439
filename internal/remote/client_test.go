package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"outpost.ai/internal/protocol"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_UpdatePosition(t *testing.T) {
	var gotPath, gotMethod string
	var got protocol.PositionUpdate
	c := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		_ = json.NewDecoder(r.Body).Decode(&got)
		rw.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(rw, `{"agentId":"me","position":[1.5,2]}`)
	})
	if err := c.UpdatePosition(context.Background(), "me", [2]float64{1.5, 2}); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/v1/agents/me/position" {
		t.Fatalf("request %s %s", gotMethod, gotPath)
	}
	if len(got.Position) != 2 || got.Position[0] != 1.5 || got.Position[1] != 2 {
		t.Fatalf("body=%+v", got)
	}
}

func TestClient_StatusErrorCarriesCode(t *testing.T) {
	c := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("content-type", "application/json")
		rw.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(rw, `{"code":"E_NOT_FOUND","message":"no agent ghost"}`)
	})
	err := c.LogAction(context.Background(), "ghost", protocol.ActionLog{ActionType: "movement"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusNotFound || se.Code != protocol.CodeNotFound {
		t.Fatalf("err=%+v", se)
	}
}

func TestClient_FetchSceneValidates(t *testing.T) {
	c := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/scenes/good":
			_, _ = io.WriteString(rw, `{"id":"good","dimensions":{"cols":4,"rows":4},"buildings":[],"agents":[{"id":"a","position":[1,1]}]}`)
		default:
			_, _ = io.WriteString(rw, `{"id":"bad","dimensions":{"cols":4,"rows":4},"buildings":[{"rect":[1,1]}],"agents":[]}`)
		}
	})
	s, err := c.FetchScene(context.Background(), "good")
	if err != nil || len(s.Agents) != 1 {
		t.Fatalf("FetchScene: %+v err=%v", s, err)
	}
	if _, err := c.FetchScene(context.Background(), "bad"); !errors.Is(err, protocol.ErrMalformedScene) {
		t.Fatalf("expected ErrMalformedScene, got %v", err)
	}
}

func TestClient_MaintainEnergy(t *testing.T) {
	c := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/agents/rover/maintain-energy" {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(rw, `{"scene":{"dimensions":{"cols":4,"rows":4},"buildings":[],"agents":[]},"relocation":{"id":"rover","position":[2,3]}}`)
	})
	res, err := c.MaintainEnergy(context.Background(), "rover")
	if err != nil {
		t.Fatalf("MaintainEnergy: %v", err)
	}
	if res.Scene == nil || res.Relocation == nil || res.Relocation.Position != [2]float64{2, 3} {
		t.Fatalf("res=%+v", res)
	}
}

func TestClient_MaintainEnergyWithoutRelocation(t *testing.T) {
	c := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(rw, `{"scene":null}`)
	})
	res, err := c.MaintainEnergy(context.Background(), "rover")
	if err != nil || res.Scene != nil || res.Relocation != nil {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestClient_MaintainEnergyRejectsBadRelocation(t *testing.T) {
	for name, reloc := range map[string]string{
		"short": `{"id":"rover","position":[7]}`,
		"long":  `{"id":"rover","position":[1,2,3]}`,
		"empty": `{"id":"rover","position":[]}`,
	} {
		c := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(rw, `{"scene":null,"relocation":`+reloc+`}`)
		})
		res, err := c.MaintainEnergy(context.Background(), "rover")
		if !errors.Is(err, protocol.ErrMalformedScene) {
			t.Fatalf("%s: expected ErrMalformedScene, got res=%+v err=%v", name, res, err)
		}
		if res.Relocation != nil {
			t.Fatalf("%s: relocation=%+v", name, res.Relocation)
		}
	}
}

func TestNew_RejectsEmptyURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "  "}); err == nil {
		t.Fatalf("expected error")
	}
}
