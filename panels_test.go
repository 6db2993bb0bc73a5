package elmax

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

func TestClient_ListControlPanels(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		writeJSON(w, `[
			{"hash":"0a1b2c","centrale_online":true,"username":[{"name":"user@example.com","label":"Home"}]},
			{"hash":"3d4e5f","centrale_online":false,"username":[]}
		]`)
	})

	panels, err := api.client().ListControlPanels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(panels) != 2 {
		t.Fatalf("got %d panels, want 2", len(panels))
	}
	if label, ok := panels[0].NameByUser(testUsername); !ok || label != "Home" {
		t.Errorf("NameByUser() = %q, %v", label, ok)
	}
	if online := FilterOnline(panels); len(online) != 1 || online[0].Hash != "0a1b2c" {
		t.Errorf("FilterOnline() = %+v", online)
	}
}

func TestClient_ListControlPanels_Local(t *testing.T) {
	client, _ := NewLocalClient("https://192.168.1.10/api/v2", "000000")
	if _, err := client.ListControlPanels(context.Background()); !errors.Is(err, ErrNotSupported) {
		t.Errorf("error = %v, want ErrNotSupported", err)
	}
}

func TestClient_GetPanelStatus(t *testing.T) {
	t.Run("cloud", func(t *testing.T) {
		api := newFakeAPI(t)
		api.handle("/discovery/0a1b2c/4321", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, panelStatusJSON)
		})

		status, err := api.client().GetPanelStatus(context.Background(), "0a1b2c", "4321")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.PanelID != "0a1b2c" || status.UserEmail != testUsername {
			t.Errorf("panel = %q, user = %q", status.PanelID, status.UserEmail)
		}
		if status.Release != "11" {
			t.Errorf("Release = %q", status.Release)
		}
		if len(status.Zones) != 2 || !status.Zones[1].Excluded {
			t.Errorf("Zones = %+v", status.Zones)
		}
		if status.Areas[0].ArmedStatus != ArmedTotally {
			t.Errorf("ArmedStatus = %q", status.Areas[0].ArmedStatus)
		}
		if status.Covers[0].Status != CoverDown || status.Covers[0].Position != 40 {
			t.Errorf("Cover = %+v", status.Covers[0])
		}
	})

	t.Run("cloud default PIN", func(t *testing.T) {
		api := newFakeAPI(t)
		api.handle("/discovery/0a1b2c/"+DefaultPanelPIN, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, panelStatusJSON)
		})

		if _, err := api.client().GetPanelStatus(context.Background(), "0a1b2c", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("cloud requires panel ID", func(t *testing.T) {
		api := newFakeAPI(t)
		if _, err := api.client().GetPanelStatus(context.Background(), "", "0000"); !errors.Is(err, ErrEmptyPanelID) {
			t.Errorf("error = %v, want ErrEmptyPanelID", err)
		}
	})

	t.Run("local ignores panel ID", func(t *testing.T) {
		api := newFakeAPI(t)
		api.handle("/discovery", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, panelStatusJSON)
		})

		status, err := api.localClient().GetPanelStatus(context.Background(), "", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(status.AllEndpoints()) != 7 {
			t.Errorf("got %d endpoints, want 7", len(status.AllEndpoints()))
		}
	})

	t.Run("wrong PIN", func(t *testing.T) {
		api := newFakeAPI(t)
		api.handle("/discovery/0a1b2c/9999", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})

		_, err := api.client().GetPanelStatus(context.Background(), "0a1b2c", "9999")
		if !IsBadPIN(err) {
			t.Errorf("error = %v, want ErrBadPIN", err)
		}
		if !IsForbidden(err) {
			t.Error("the 403 APIError should remain reachable")
		}
	})

	t.Run("PIN is masked in logs", func(t *testing.T) {
		api := newFakeAPI(t)
		api.handle("/discovery/0a1b2c/987654", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, panelStatusJSON)
		})

		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		client := api.client(WithLogger(logger))

		if _, err := client.GetPanelStatus(context.Background(), "0a1b2c", "987654"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(buf.String(), "987654") {
			t.Error("PIN leaked into logs")
		}
		if !strings.Contains(buf.String(), "/discovery/0a1b2c/******") {
			t.Error("expected masked discovery path in logs")
		}
	})
}

func TestClient_GetEndpointStatus(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/status/0a1b2c-tapparella-0", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"release":"11.2","tapparelle":[{"endpointId":"0a1b2c-tapparella-0","visibile":true,"indice":0,"nome":"Kitchen","posizione":100,"stato":0}]}`)
	})

	status, err := api.client().GetEndpointStatus(context.Background(), "0a1b2c-tapparella-0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ref, ok := status.FindEndpoint("0a1b2c-tapparella-0")
	if !ok || ref.Kind != KindCover || ref.Name != "Kitchen" {
		t.Errorf("FindEndpoint() = %+v, %v", ref, ok)
	}
	if status.Release != "11.2" {
		t.Errorf("Release = %q", status.Release)
	}

	if _, err := api.client().GetEndpointStatus(context.Background(), ""); !errors.Is(err, ErrEmptyEndpointID) {
		t.Errorf("error = %v, want ErrEmptyEndpointID", err)
	}
}

func TestClient_CurrentPanel(t *testing.T) {
	api := newFakeAPI(t)
	api.handle("/discovery/0a1b2c/1111", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, panelStatusJSON)
	})
	client := api.client()

	if _, err := client.GetCurrentPanelStatus(context.Background()); !errors.Is(err, ErrNoCurrentPanel) {
		t.Errorf("error = %v, want ErrNoCurrentPanel", err)
	}
	if err := client.SetCurrentPanel("", "1111"); !errors.Is(err, ErrEmptyPanelID) {
		t.Errorf("error = %v, want ErrEmptyPanelID", err)
	}

	if err := client.SetCurrentPanel("0a1b2c", "1111"); err != nil {
		t.Fatalf("SetCurrentPanel: %v", err)
	}
	if id, ok := client.CurrentPanel(); !ok || id != "0a1b2c" {
		t.Errorf("CurrentPanel() = %q, %v", id, ok)
	}

	status, err := client.GetCurrentPanelStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.PanelID != "0a1b2c" {
		t.Errorf("PanelID = %q", status.PanelID)
	}
}

func TestClient_PushEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"https", "https://192.168.1.10/api/v2", "wss://192.168.1.10/api/v2/push"},
		{"http with port", "http://10.0.0.5:8080/api/v2/", "ws://10.0.0.5:8080/api/v2/push"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := NewLocalClient(tt.baseURL, "000000")
			got, err := client.PushEndpoint()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("PushEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}

	cloud, _ := NewClient(testUsername, testPassword)
	if _, err := cloud.PushEndpoint(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("error = %v, want ErrNotSupported", err)
	}
}
