package elmax

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// EndpointKind identifies the family an endpoint belongs to.
type EndpointKind string

// Endpoint kinds.
const (
	KindZone     EndpointKind = "zone"
	KindActuator EndpointKind = "actuator"
	KindArea     EndpointKind = "area"
	KindGroup    EndpointKind = "group"
	KindScene    EndpointKind = "scene"
	KindCover    EndpointKind = "cover"
)

// AlarmArmStatus is the arming level of an area.
type AlarmArmStatus string

// Arm status values as reported by the panel.
const (
	ArmedTotally AlarmArmStatus = "Totale"
	ArmedP1      AlarmArmStatus = "P1"
	ArmedP2      AlarmArmStatus = "P2"
	ArmedP1P2    AlarmArmStatus = "P1+P2"
	NotArmed     AlarmArmStatus = "DIS"
)

// IsArmed reports whether any arming level is active.
func (s AlarmArmStatus) IsArmed() bool {
	switch s {
	case ArmedTotally, ArmedP1, ArmedP2, ArmedP1P2:
		return true
	}
	return false
}

// AlarmStatus is the alarm condition of an area. The panel reports it as an
// Italian sentence.
type AlarmStatus string

// Alarm status values as reported by the panel.
const (
	AlarmTriggered          AlarmStatus = "in Allarme"
	AlarmArmedStandby       AlarmStatus = "Inserita e a riposo"
	AlarmNotArmedTriggered  AlarmStatus = "non inserita e zone aperte"
	AlarmNotArmedReady      AlarmStatus = "non inserita e pronta all'inserimento"
	AlarmNotArmedNotArmable AlarmStatus = "non inserita e non pronta all'inserimento"
)

// CoverStatus is the motion state of a cover.
type CoverStatus int

// Cover motion states.
const (
	CoverIdle CoverStatus = 0
	CoverUp   CoverStatus = 1
	CoverDown CoverStatus = 2
)

// String implements fmt.Stringer.
func (s CoverStatus) String() string {
	switch s {
	case CoverIdle:
		return "idle"
	case CoverUp:
		return "up"
	case CoverDown:
		return "down"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// FlexString is a string that also accepts JSON numbers. Panel firmware
// versions report release fields with either type.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// Endpoint holds the fields every panel endpoint shares.
type Endpoint struct {
	EndpointID string `json:"endpointId"`
	Visible    bool   `json:"visibile"`
	Index      int    `json:"indice"`
	Name       string `json:"nome"`
}

// Zone is an alarm input (door contact, PIR sensor).
type Zone struct {
	Endpoint
	Opened   bool `json:"aperta"`
	Excluded bool `json:"esclusa"`
}

// Actuator is a switchable output.
type Actuator struct {
	Endpoint
	Opened bool `json:"aperta"`
}

// Area is an arming partition of the panel.
type Area struct {
	Endpoint
	Status                 AlarmStatus      `json:"stato"`
	ArmedStatus            AlarmArmStatus   `json:"statoInserimento"`
	AvailableArmedStatuses []AlarmArmStatus `json:"statiDisponibili,omitempty"`
	AvailableStatuses      []AlarmStatus    `json:"statiSessioneDisponibili,omitempty"`
}

// Group is a set of zones managed together.
type Group struct {
	Endpoint
}

// Scene is a stored sequence of commands.
type Scene struct {
	Endpoint
}

// Cover is a motorized shutter.
type Cover struct {
	Endpoint
	Position int         `json:"posizione"`
	Status   CoverStatus `json:"stato"`
}

// EndpointRef is an endpoint together with its kind.
type EndpointRef struct {
	Endpoint
	Kind EndpointKind
}

// PanelUserName maps a user to the label they gave a panel.
type PanelUserName struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// PanelEntry is a control panel listed for the authenticated user.
type PanelEntry struct {
	Hash      string          `json:"hash"`
	Online    bool            `json:"centrale_online"`
	UserNames []PanelUserName `json:"username"`
}

// NameByUser returns the label the given user assigned to the panel.
func (p PanelEntry) NameByUser(username string) (string, bool) {
	for _, u := range p.UserNames {
		if u.Name == username {
			return u.Label, true
		}
	}
	return "", false
}

// FilterOnline returns the panels currently connected to the cloud.
func FilterOnline(panels []PanelEntry) []PanelEntry {
	online := make([]PanelEntry, 0, len(panels))
	for _, p := range panels {
		if p.Online {
			online = append(online, p)
		}
	}
	return online
}

// EndpointStatus is the state of the endpoints returned by a status query.
type EndpointStatus struct {
	Release          FlexString `json:"release"`
	CoverFeature     bool       `json:"tappFeature"`
	SceneFeature     bool       `json:"sceneFeature"`
	PushFeature      bool       `json:"pushFeature"`
	AccessoryType    string     `json:"accessoryType,omitempty"`
	AccessoryRelease FlexString `json:"accessoryRelease,omitempty"`
	Zones            []Zone     `json:"zone"`
	Actuators        []Actuator `json:"uscite"`
	Areas            []Area     `json:"aree"`
	Covers           []Cover    `json:"tapparelle"`
	Groups           []Group    `json:"gruppi"`
	Scenes           []Scene    `json:"scenari"`
}

// PanelStatus is a full snapshot of a control panel.
type PanelStatus struct {
	EndpointStatus
	PanelID   string `json:"centrale"`
	UserEmail string `json:"utente"`
}

// AllEndpoints returns every endpoint of the snapshot with its kind.
func (s *EndpointStatus) AllEndpoints() []EndpointRef {
	n := len(s.Zones) + len(s.Actuators) + len(s.Areas) + len(s.Covers) + len(s.Groups) + len(s.Scenes)
	refs := make([]EndpointRef, 0, n)
	for _, z := range s.Zones {
		refs = append(refs, EndpointRef{Endpoint: z.Endpoint, Kind: KindZone})
	}
	for _, a := range s.Actuators {
		refs = append(refs, EndpointRef{Endpoint: a.Endpoint, Kind: KindActuator})
	}
	for _, a := range s.Areas {
		refs = append(refs, EndpointRef{Endpoint: a.Endpoint, Kind: KindArea})
	}
	for _, c := range s.Covers {
		refs = append(refs, EndpointRef{Endpoint: c.Endpoint, Kind: KindCover})
	}
	for _, g := range s.Groups {
		refs = append(refs, EndpointRef{Endpoint: g.Endpoint, Kind: KindGroup})
	}
	for _, sc := range s.Scenes {
		refs = append(refs, EndpointRef{Endpoint: sc.Endpoint, Kind: KindScene})
	}
	return refs
}

// FindEndpoint looks up an endpoint by ID.
func (s *EndpointStatus) FindEndpoint(endpointID string) (EndpointRef, bool) {
	for _, ref := range s.AllEndpoints() {
		if ref.EndpointID == endpointID {
			return ref, true
		}
	}
	return EndpointRef{}, false
}
