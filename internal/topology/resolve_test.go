// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"testing"

	"github.com/cobaltcore-dev/conductor/internal/cloudinit"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/internal/vim/vimtest"
)

func testAccounts() vimtest.Accounts {
	a := vimtest.NewFake("a").Account("acc-1", "dc-1")
	a.AvailabilityZones = []string{"az1", "az2"}
	b := vimtest.NewFake("b").Account("acc-2", "dc-2")
	return vimtest.Accounts{a, b}
}

func testTemplate() *Template {
	return &Template{
		ID:          "tmpl-1",
		Name:        "demo",
		CloudConfig: &cloudinit.Config{KeyPairs: []string{"tmpl-key"}},
		Networks: []Network{
			{Name: "mgmt", External: true, Endpoints: []Endpoint{
				{MemberVNFIndex: "1", VDU: "fw", Interface: "eth0"},
				{MemberVNFIndex: "2", VDU: "lb", Interface: "eth0"},
			}},
			{Name: "data", Type: vim.NetworkData, Endpoints: []Endpoint{
				{MemberVNFIndex: "1", VDU: "fw", Interface: "eth1"},
			}},
		},
		VNFs: []VNF{
			{
				MemberVNFIndex: "1",
				Name:           "firewall",
				BootData:       &cloudinit.Config{KeyPairs: []string{"vnf-key"}},
				Networks:       []InternalNetwork{{Name: "internal"}},
				VDUs: []VDU{{
					ID:               "fw",
					Name:             "fw-vm",
					Count:            2,
					Image:            vim.ImageSpec{Name: "fw-image"},
					Flavor:           vim.FlavorSpec{RAM: 1024, VCPUs: 2, Disk: 10},
					AvailabilityZone: "az2",
					Interfaces: []Interface{
						{Name: "eth0", Use: UseMgmt},
						{Name: "eth1", Use: UseData, Model: "VF", IPAddress: "10.0.0.10"},
						{Name: "eth2", InternalNet: "internal"},
						{Name: "eth3"},
					},
				}},
			},
			{
				MemberVNFIndex: "2",
				Name:           "balancer",
				VDUs: []VDU{{
					ID:     "lb",
					Image:  vim.ImageSpec{Name: "lb-image"},
					Flavor: vim.FlavorSpec{RAM: 512, VCPUs: 1, Disk: 5},
					Interfaces: []Interface{
						{Name: "eth0", Use: UseMgmt},
					},
				}},
			},
		},
	}
}

func TestResolve(t *testing.T) {
	portSecurity := false
	req := &Request{
		Name:       "inst",
		Datacenter: "dc-1",
		MgmtKeys:   []string{"req-key"},
		Networks: map[string]NetworkOverride{
			"mgmt": {Sites: []Site{{NetmapUse: "public"}, {Datacenter: "dc-2", NetmapCreate: "shared"}}},
		},
		VNFs: map[string]VNFOverride{
			"balancer": {Datacenter: "acc-2"},
			"1": {VDUs: map[string]VDUOverride{
				"fw-vm": {
					Name:       "custom",
					MgmtKeys:   []string{"vdu-key"},
					Interfaces: map[string]InterfaceOverride{"eth1": {MACAddress: "fa:16:3e:00:00:01", PortSecurity: &portSecurity}},
				},
			}},
		},
	}
	plan, err := Resolve(context.Background(), testAccounts(), testTemplate(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if plan.Default.ID != "acc-1" {
		t.Fatalf("expected default account acc-1, got %s", plan.Default.ID)
	}
	if len(plan.Networks) != 3 || plan.Networks[2].VNF == nil || plan.Networks[2].Name != "internal" {
		t.Fatalf("expected two template networks and one internal network, got %d", len(plan.Networks))
	}
	mgmt := plan.Networks[0]
	if len(mgmt.Sites) != 2 || mgmt.Sites[0].Account.ID != "acc-1" || mgmt.Sites[1].Account.ID != "acc-2" {
		t.Fatalf("expected sites at acc-1 and acc-2, got %v", mgmt.Sites)
	}
	if plan.VNF("2").Account.ID != "acc-2" {
		t.Fatalf("expected vnf 2 at acc-2, got %s", plan.VNF("2").Account.ID)
	}

	fw := plan.VNF("1").VMs[0]
	if fw.Name != "custom" || fw.Count != 2 {
		t.Fatalf("expected 2 replicas named custom, got %d %s", fw.Count, fw.Name)
	}
	if zone, ok := fw.ZoneIndex.Unpack(); !ok || zone != 1 {
		t.Fatalf("expected zone index 1, got %v", fw.ZoneIndex)
	}
	if len(fw.Interfaces) != 3 {
		t.Fatalf("expected unattached eth3 to be skipped, got %d interfaces", len(fw.Interfaces))
	}
	eth1 := fw.Interface("eth1")
	if eth1.Type != "VF" || eth1.Network.Name != "data" {
		t.Fatalf("expected VF interface on data, got %s on %s", eth1.Type, eth1.Network.Name)
	}
	if ip, ok := eth1.IPAddress.Unpack(); !ok || ip.String() != "10.0.0.10" {
		t.Fatalf("expected ip 10.0.0.10, got %v", eth1.IPAddress)
	}
	if mac, ok := eth1.MACAddress.Unpack(); !ok || mac != "fa:16:3e:00:00:01" {
		t.Fatalf("expected mac override, got %v", eth1.MACAddress)
	}
	if ps, ok := eth1.PortSecurity.Unpack(); !ok || ps {
		t.Fatalf("expected port security disabled, got %v", eth1.PortSecurity)
	}
	if fw.Interface("eth2").Network != plan.Networks[2] {
		t.Fatal("expected eth2 on the internal network")
	}
	want := []string{"tmpl-key", "vnf-key", "vdu-key", "req-key"}
	if !slices.Equal(fw.CloudConfig.KeyPairs, want) {
		t.Fatalf("expected key pairs %v, got %v", want, fw.CloudConfig.KeyPairs)
	}

	lb := plan.VNF("2").VMs[0]
	if lb.Name != "inst.2.lb" || lb.Count != 1 {
		t.Fatalf("expected one replica named inst.2.lb, got %d %s", lb.Count, lb.Name)
	}
	if got := len(plan.Accounts()); got != 2 {
		t.Fatalf("expected 2 accounts, got %d", got)
	}
}

func TestResolve_MgmtKeysOnlyOnMgmtVMs(t *testing.T) {
	tmpl := testTemplate()
	tmpl.VNFs[1].VDUs[0].Interfaces[0].Use = UseBridge
	req := &Request{Name: "inst", Datacenter: "dc-1", MgmtKeys: []string{"req-key"}}
	plan, err := Resolve(context.Background(), testAccounts(), tmpl, req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	lb := plan.VNF("2").VMs[0]
	if slices.Contains(lb.CloudConfig.KeyPairs, "req-key") {
		t.Fatalf("expected no request keys on vm without mgmt interface, got %v", lb.CloudConfig.KeyPairs)
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Template, *Request)
		wantCode int
	}{
		{"missing datacenter", func(_ *Template, r *Request) { r.Datacenter = "" }, http.StatusBadRequest},
		{"unknown datacenter", func(_ *Template, r *Request) { r.Datacenter = "dc-9" }, http.StatusBadRequest},
		{"unknown network", func(_ *Template, r *Request) {
			r.Networks = map[string]NetworkOverride{"nope": {}}
		}, http.StatusBadRequest},
		{"unknown vnf", func(_ *Template, r *Request) {
			r.VNFs = map[string]VNFOverride{"9": {}}
		}, http.StatusBadRequest},
		{"unknown vdu", func(_ *Template, r *Request) {
			r.VNFs = map[string]VNFOverride{"1": {VDUs: map[string]VDUOverride{"nope": {}}}}
		}, http.StatusBadRequest},
		{"unknown interface", func(_ *Template, r *Request) {
			r.VNFs = map[string]VNFOverride{"1": {VDUs: map[string]VDUOverride{
				"fw": {Interfaces: map[string]InterfaceOverride{"eth9": {}}},
			}}}
		}, http.StatusBadRequest},
		{"unknown device", func(_ *Template, r *Request) {
			r.VNFs = map[string]VNFOverride{"1": {VDUs: map[string]VDUOverride{
				"fw": {Devices: map[string]DeviceOverride{"vdb": {Size: 20}}},
			}}}
		}, http.StatusBadRequest},
		{"two sites without datacenter", func(_ *Template, r *Request) {
			r.Networks = map[string]NetworkOverride{"mgmt": {Sites: []Site{{NetmapUse: "a"}, {NetmapUse: "b"}}}}
		}, http.StatusBadRequest},
		{"unknown zone", func(tmpl *Template, _ *Request) {
			tmpl.VNFs[0].VDUs[0].AvailabilityZone = "az9"
		}, http.StatusBadRequest},
		{"invalid ip", func(_ *Template, r *Request) {
			r.VNFs = map[string]VNFOverride{"1": {VDUs: map[string]VDUOverride{
				"fw": {Interfaces: map[string]InterfaceOverride{"eth1": {IPAddress: "10.0.0"}}},
			}}}
		}, http.StatusBadRequest},
		{"data interface without model", func(tmpl *Template, _ *Request) {
			tmpl.VNFs[0].VDUs[0].Interfaces[1].Model = ""
		}, http.StatusBadRequest},
		{"endpoint on unknown interface", func(tmpl *Template, _ *Request) {
			tmpl.Networks[1].Endpoints[0].Interface = "eth9"
		}, http.StatusBadRequest},
		{"interface on two networks", func(tmpl *Template, _ *Request) {
			tmpl.Networks[1].Endpoints[0].Interface = "eth0"
		}, http.StatusBadRequest},
		{"hop on unattached interface", func(tmpl *Template, _ *Request) {
			tmpl.VNFFGs = []VNFFG{{Name: "fg", RSPs: []RSP{{ID: "rsp", Hops: []Hop{
				{MemberVNFIndex: "1", VDU: "fw", Ingress: "eth1", Egress: "eth3"},
			}}}}}
		}, http.StatusBadRequest},
		{"classifier on unknown rsp", func(tmpl *Template, _ *Request) {
			tmpl.VNFFGs = []VNFFG{{Name: "fg",
				RSPs:        []RSP{{ID: "rsp", Hops: []Hop{{MemberVNFIndex: "1", VDU: "fw", Ingress: "eth1", Egress: "eth1"}}}},
				Classifiers: []Classifier{{Name: "c", RSP: "other", MemberVNFIndex: "2", VDU: "lb", Interface: "eth0"}},
			}}
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := testTemplate()
			req := &Request{Name: "inst", Datacenter: "dc-1"}
			tt.mutate(tmpl, req)
			_, err := Resolve(context.Background(), testAccounts(), tmpl, req)
			if errdefs.Code(err) != tt.wantCode {
				t.Fatalf("expected status %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestWANSelection_JSON(t *testing.T) {
	tests := []struct {
		in      string
		auto    bool
		none    bool
		account string
	}{
		{`{}`, true, false, ""},
		{`{"wim-account": null}`, true, false, ""},
		{`{"wim-account": true}`, true, false, ""},
		{`{"wim-account": "auto"}`, true, false, ""},
		{`{"wim-account": false}`, false, true, ""},
		{`{"wim-account": "none"}`, false, true, ""},
		{`{"wim-account": "wan-1"}`, false, false, "wan-1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var ov NetworkOverride
			if err := json.Unmarshal([]byte(tt.in), &ov); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			account, explicit := ov.WAN.Account()
			if ov.WAN.IsAuto() != tt.auto || ov.WAN.IsNone() != tt.none || account != tt.account || explicit != (tt.account != "") {
				t.Fatalf("expected auto=%v none=%v account=%q, got %s", tt.auto, tt.none, tt.account, ov.WAN)
			}
		})
	}
	var ov NetworkOverride
	if err := json.Unmarshal([]byte(`{"wim-account": 3}`), &ov); err == nil {
		t.Fatal("expected error for numeric wim-account")
	}
}

func TestResolve_RequestWANDefault(t *testing.T) {
	tests := []struct {
		name     string
		instance string
		network  string
		want     string
	}{
		{"request default applies", `{"wim-account": "wan-1"}`, `{}`, "wan-1"},
		{"request disables wan", `{"wim-account": "none"}`, `{}`, "none"},
		{"network override wins", `{"wim-account": "wan-1"}`, `{"wim-account": false}`, "none"},
		{"explicit auto on network wins", `{"wim-account": false}`, `{"wim-account": "auto"}`, "auto"},
		{"nothing selected", `{}`, `{}`, "auto"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{}
			if err := json.Unmarshal([]byte(tt.instance), req); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			var ov NetworkOverride
			if err := json.Unmarshal([]byte(tt.network), &ov); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			req.Name, req.Datacenter = "inst", "dc-1"
			req.Networks = map[string]NetworkOverride{"data": ov}
			plan, err := Resolve(context.Background(), testAccounts(), testTemplate(), req)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			var data *PlanNetwork
			for _, n := range plan.Networks {
				if n.Name == "data" {
					data = n
				}
			}
			if data == nil || data.WAN.String() != tt.want {
				t.Fatalf("expected wan selection %s, got %v", tt.want, data)
			}
			if mgmt := plan.Networks[0]; mgmt.Name != "mgmt" || mgmt.WAN.String() != req.WAN.String() {
				t.Fatalf("expected mgmt network to inherit the request selection, got %v", mgmt)
			}
		})
	}
}
