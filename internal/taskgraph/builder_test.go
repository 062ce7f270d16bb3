// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package taskgraph

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/topology"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/cobaltcore-dev/conductor/internal/vim/vimtest"
	"gopkg.in/yaml.v3"
)

type fakeSelector struct {
	calls   [][]string
	account string
	err     error
}

func (s *fakeSelector) SelectAccount(_ context.Context, _ string, datacenters []string) (string, error) {
	s.calls = append(s.calls, datacenters)
	return s.account, s.err
}

func testAccounts() vimtest.Accounts {
	a := vimtest.NewFake("a").Account("acc-1", "dc-1")
	a.AvailabilityZones = []string{"az1"}
	b := vimtest.NewFake("b").Account("acc-2", "dc-2")
	b.ManagementNetworkName = "provider"
	return vimtest.Accounts{a, b}
}

func vdu(id string, count int, ifaces ...topology.Interface) topology.VDU {
	return topology.VDU{
		ID:         id,
		Count:      count,
		Image:      vim.ImageSpec{Name: id + "-image"},
		Flavor:     vim.FlavorSpec{RAM: 1024, VCPUs: 2, Disk: 10},
		Interfaces: ifaces,
	}
}

// Two vms of vnf 1 share a network at the default account, vnf 2 runs
// on a second account with its own network.
func scenarioTemplate() *topology.Template {
	return &topology.Template{
		ID: "tmpl",
		Networks: []topology.Network{
			{Name: "shared", Endpoints: []topology.Endpoint{
				{MemberVNFIndex: "1", VDU: "a", Interface: "eth0"},
			}},
			{Name: "other", Endpoints: []topology.Endpoint{
				{MemberVNFIndex: "2", VDU: "c", Interface: "eth0"},
			}},
		},
		VNFs: []topology.VNF{
			{MemberVNFIndex: "1", Name: "one", VDUs: []topology.VDU{
				vdu("a", 2, topology.Interface{Name: "eth0", IPAddress: "10.0.0.10", MACAddress: "fa:16:3e:00:00:01"}),
			}},
			{MemberVNFIndex: "2", Name: "two", VDUs: []topology.VDU{
				vdu("c", 1, topology.Interface{Name: "eth0", Use: topology.UseMgmt}),
			}},
		},
	}
}

func buildPlan(t *testing.T, tmpl *topology.Template, req *topology.Request) *topology.Plan {
	t.Helper()
	plan, err := topology.Resolve(context.Background(), testAccounts(), tmpl, req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, vnf := range plan.VNFs {
		for _, vm := range vnf.VMs {
			vm.ImageID = "img-" + vnf.Account.ID
			vm.FlavorID = "flv-" + vnf.Account.ID
		}
	}
	return plan
}

func build(t *testing.T, b *Builder, plan *topology.Plan) *Graph {
	t.Helper()
	if b.InstanceID == "" {
		b.InstanceID = "inst-1"
	}
	graph, err := b.Build(context.Background(), plan)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := graph.Check(); err != nil {
		t.Fatalf("expected acyclic graph, got %v", err)
	}
	return graph
}

func tasksOf(g *Graph, item string) []Task {
	var out []Task
	for _, task := range g.Tasks {
		if task.Item == item {
			out = append(out, task)
		}
	}
	return out
}

func scenarioRequest() *topology.Request {
	return &topology.Request{
		Name:       "inst",
		Datacenter: "dc-1",
		VNFs:       map[string]topology.VNFOverride{"2": {Datacenter: "dc-2"}},
	}
}

func TestBuild_SharedNetworkScenario(t *testing.T) {
	selector := &fakeSelector{account: "wan-1"}
	graph := build(t, &Builder{TenantID: "t-1", WAN: selector}, buildPlan(t, scenarioTemplate(), scenarioRequest()))

	nets := tasksOf(graph, ItemNet)
	if len(nets) != 2 {
		t.Fatalf("expected one network task per network and account, got %d", len(nets))
	}
	pairs := map[string]bool{}
	for _, row := range graph.Nets {
		key := row.NetName + "@" + row.AccountID
		if pairs[key] {
			t.Fatalf("expected a single task for %s", key)
		}
		pairs[key] = true
	}
	if !pairs["shared@acc-1"] || !pairs["other@acc-2"] {
		t.Fatalf("expected shared at acc-1 and other at acc-2, got %v", pairs)
	}
	if len(graph.WANUsage) != 0 || len(selector.calls) != 0 {
		t.Fatalf("expected no wan candidates, got %v", graph.WANUsage)
	}

	vms := tasksOf(graph, ItemVM)
	if len(vms) != 3 || len(graph.VMs) != 3 {
		t.Fatalf("expected 3 vm tasks, got %d", len(vms))
	}
	for _, vm := range vms {
		if len(vm.DependsOn) != 1 || graph.Tasks[vm.DependsOn[0].Index].Item != ItemNet {
			t.Fatalf("expected vm to depend on its network, got %v", vm.DependsOn)
		}
		if graph.Tasks[vm.DependsOn[0].Index].AccountID != vm.AccountID {
			t.Fatalf("expected network task at the vm account")
		}
	}
	first := vms[0].Params.(VMParams)
	second := vms[1].Params.(VMParams)
	if first.Name != "inst.1.a.1" || second.Name != "inst.1.a.2" {
		t.Fatalf("expected ordinal names, got %s %s", first.Name, second.Name)
	}
	if first.Interfaces[0].IPAddress != "10.0.0.10" || second.Interfaces[0].IPAddress != "10.0.0.11" {
		t.Fatalf("expected incremented static ips, got %s %s", first.Interfaces[0].IPAddress, second.Interfaces[0].IPAddress)
	}
	if first.Interfaces[0].MACAddress == "" || second.Interfaces[0].MACAddress != "" {
		t.Fatalf("expected mac only on the first replica, got %q %q", first.Interfaces[0].MACAddress, second.Interfaces[0].MACAddress)
	}
	if first.ImageID != "img-acc-1" || vms[2].Params.(VMParams).FlavorID != "flv-acc-2" {
		t.Fatal("expected native ids of the vnf account")
	}
	if len(graph.Interfaces) != 3 || graph.Interfaces[1].IPAddress != "10.0.0.11" {
		t.Fatalf("expected one interface row per replica, got %v", graph.Interfaces)
	}
	if graph.Instance.AccountID != "acc-1" || graph.VMs[2].AccountID != "acc-2" {
		t.Fatal("expected rows to carry their accounts")
	}
}

func TestBuild_NetworkSpanningAccounts(t *testing.T) {
	tmpl := scenarioTemplate()
	tmpl.Networks[0].Endpoints = append(tmpl.Networks[0].Endpoints, topology.Endpoint{MemberVNFIndex: "2", VDU: "c", Interface: "eth1"})
	tmpl.VNFs[1].VDUs[0].Interfaces = append(tmpl.VNFs[1].VDUs[0].Interfaces, topology.Interface{Name: "eth1"})

	selector := &fakeSelector{account: "wan-1"}
	graph := build(t, &Builder{TenantID: "t-1", WAN: selector}, buildPlan(t, tmpl, scenarioRequest()))

	if len(selector.calls) != 1 || !slices.Equal(selector.calls[0], []string{"dc-1", "dc-2"}) {
		t.Fatalf("expected wan selection over dc-1 and dc-2, got %v", selector.calls)
	}
	if len(graph.WANUsage) != 1 || graph.WANUsage[0].WANAccountID != "wan-1" || graph.WANUsage[0].NetName != "shared" {
		t.Fatalf("expected shared network as wan candidate, got %v", graph.WANUsage)
	}
	var shared []catalog.InstanceNet
	for _, row := range graph.Nets {
		if row.NetName == "shared" {
			shared = append(shared, row)
		}
	}
	if len(shared) != 2 || shared[0].Related != shared[1].Related || shared[1].WANAccountID != "wan-1" {
		t.Fatalf("expected two related rows with the wan account, got %v", shared)
	}
	params := graph.Tasks[0].Params.(NetworkParams)
	if params.WANAccount != "wan-1" || params.Name != "inst-shared" {
		t.Fatalf("expected create of inst-shared over wan-1, got %v", params)
	}

	// An explicit account skips selection, no wan skips the candidate account.
	for _, tt := range []struct {
		selection topology.WANSelection
		want      string
	}{
		{topology.ExplicitWAN("wan-9"), "wan-9"},
		{topology.NoWAN(), ""},
	} {
		req := scenarioRequest()
		req.Networks = map[string]topology.NetworkOverride{"shared": {WAN: tt.selection}}
		selector := &fakeSelector{account: "wan-1"}
		graph := build(t, &Builder{WAN: selector}, buildPlan(t, tmpl, req))
		if len(selector.calls) != 0 || graph.WANUsage[0].WANAccountID != tt.want {
			t.Fatalf("expected wan account %q without selection, got %v", tt.want, graph.WANUsage)
		}
	}

	selector = &fakeSelector{err: errdefs.Conflictf("no wan connects dc-1 and dc-2")}
	_, err := (&Builder{WAN: selector}).Build(context.Background(), buildPlan(t, tmpl, scenarioRequest()))
	if errdefs.Code(err) != http.StatusConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestBuild_NetworkVerbs(t *testing.T) {
	tmpl := &topology.Template{
		Networks: []topology.Network{
			{Name: "plain", Endpoints: []topology.Endpoint{{MemberVNFIndex: "1", VDU: "a", Interface: "eth0"}}},
			{Name: "use", Endpoints: []topology.Endpoint{{MemberVNFIndex: "1", VDU: "a", Interface: "eth1"}}},
			{Name: "create", Endpoints: []topology.Endpoint{{MemberVNFIndex: "1", VDU: "a", Interface: "eth2"}}},
			{Name: "named", Endpoints: []topology.Endpoint{{MemberVNFIndex: "1", VDU: "a", Interface: "eth3"}}},
			{Name: "public", External: true, Endpoints: []topology.Endpoint{{MemberVNFIndex: "1", VDU: "a", Interface: "eth4"}}},
		},
		VNFs: []topology.VNF{{
			MemberVNFIndex: "1",
			Networks:       []topology.InternalNetwork{{Name: "internal"}},
			VDUs: []topology.VDU{vdu("a", 1,
				topology.Interface{Name: "eth0"}, topology.Interface{Name: "eth1"},
				topology.Interface{Name: "eth2"}, topology.Interface{Name: "eth3"},
				topology.Interface{Name: "eth4", Use: topology.UseMgmt},
				topology.Interface{Name: "eth5", InternalNet: "internal"},
			)},
		}},
	}
	req := &topology.Request{
		Name:       "inst",
		Datacenter: "dc-1",
		Networks: map[string]topology.NetworkOverride{
			"use":    {Sites: []topology.Site{{NetmapUse: "0b5c4e7a-3f0f-4bb5-9d9e-6f2f6b8f3a10"}}},
			"create": {Sites: []topology.Site{{NetmapCreate: "custom"}}},
			"named":  {VimNetworkName: "existing"},
		},
	}
	graph := build(t, &Builder{}, buildPlan(t, tmpl, req))
	tests := []struct {
		net    string
		verb   Verb
		name   string
		filter *vim.NetworkFilter
	}{
		{"plain", VerbCreate, "inst-plain", nil},
		{"use", VerbFind, "", &vim.NetworkFilter{ID: "0b5c4e7a-3f0f-4bb5-9d9e-6f2f6b8f3a10"}},
		{"create", VerbCreate, "custom", nil},
		{"named", VerbFind, "", &vim.NetworkFilter{Name: "existing"}},
		{"public", VerbCreate, "public", &vim.NetworkFilter{Name: "public"}},
		{"internal", VerbCreate, "inst-internal", nil},
	}
	for i, tt := range tests {
		t.Run(tt.net, func(t *testing.T) {
			task := graph.Tasks[i]
			row := graph.Nets[i]
			if row.NetName != tt.net || task.ItemID != row.ID {
				t.Fatalf("expected task %d for %s, got %s", i, tt.net, row.NetName)
			}
			if task.Verb != tt.verb || row.Created != (tt.verb == VerbCreate) {
				t.Fatalf("expected %s, got %s", tt.verb, task.Verb)
			}
			if tt.name != "" && task.Params.(NetworkParams).Name != tt.name {
				t.Fatalf("expected name %s, got %v", tt.name, task.Params)
			}
			if (tt.filter == nil) != (task.Find == nil) || (tt.filter != nil && *tt.filter != *task.Find) {
				t.Fatalf("expected filter %v, got %v", tt.filter, task.Find)
			}
			if len(task.DependsOn) != 0 {
				t.Fatalf("expected networks without dependencies, got %v", task.DependsOn)
			}
		})
	}
	if graph.Nets[5].InstanceVNFID != graph.VNFs[0].ID {
		t.Fatal("expected internal network to belong to its vnf")
	}
}

func TestBuild_ManagementNetwork(t *testing.T) {
	tmpl := &topology.Template{
		Networks: []topology.Network{
			{Name: "mgmt", External: true, Endpoints: []topology.Endpoint{{MemberVNFIndex: "1", VDU: "a", Interface: "eth0"}}},
		},
		VNFs: []topology.VNF{{MemberVNFIndex: "1", VDUs: []topology.VDU{vdu("a", 1, topology.Interface{Name: "eth0", Use: topology.UseMgmt})}}},
	}
	graph := build(t, &Builder{}, buildPlan(t, tmpl, &topology.Request{Name: "inst", Datacenter: "dc-2"}))
	if graph.Tasks[0].Verb != VerbFind || graph.Tasks[0].Find.Name != "provider" {
		t.Fatalf("expected find of the management network, got %v", graph.Tasks[0])
	}

	tmpl.Networks = append(tmpl.Networks, topology.Network{Name: "mgmt2", External: true})
	_, err := (&Builder{}).Build(context.Background(), buildPlan(t, tmpl, &topology.Request{Name: "inst", Datacenter: "dc-2"}))
	if errdefs.Code(err) != http.StatusBadRequest {
		t.Fatalf("expected validation error for two management networks, got %v", err)
	}
}

func TestBuild_IPOverflow(t *testing.T) {
	tmpl := scenarioTemplate()
	tmpl.VNFs[0].VDUs[0].Interfaces[0].IPAddress = "255.255.255.254"
	tmpl.VNFs[0].VDUs[0].Count = 3
	graph := build(t, &Builder{}, buildPlan(t, tmpl, scenarioRequest()))
	var ips []string
	for _, task := range tasksOf(graph, ItemVM)[:3] {
		ips = append(ips, task.Params.(VMParams).Interfaces[0].IPAddress)
	}
	if !slices.Equal(ips, []string{"255.255.255.254", "255.255.255.255", ""}) {
		t.Fatalf("expected the overflowing replica without static ip, got %v", ips)
	}
}

func TestBuild_DisksAndZone(t *testing.T) {
	tmpl := scenarioTemplate()
	tmpl.VNFs[0].VDUs[0].AvailabilityZone = "az1"
	tmpl.VNFs[0].VDUs[0].Flavor.Extended = &vim.FlavorExtended{Devices: []vim.Device{{Name: "vdb", Type: "disk"}}}
	req := scenarioRequest()
	req.VNFs["1"] = topology.VNFOverride{VDUs: map[string]topology.VDUOverride{
		"a": {Devices: map[string]topology.DeviceOverride{"vdb": {Size: 50}}},
	}}
	plan := buildPlan(t, tmpl, req)
	plan.VNFs[0].VMs[0].Disks = []vim.Disk{{Name: "vdb", Size: 10}}
	graph := build(t, &Builder{}, plan)
	params := graph.Tasks[2].Params.(VMParams)
	if len(params.Disks) != 1 || params.Disks[0].Size != 50 {
		t.Fatalf("expected overridden disk size, got %v", params.Disks)
	}
	if plan.VNFs[0].VMs[0].Disks[0].Size != 10 {
		t.Fatal("expected plan disks to stay untouched")
	}
	if params.AvailabilityZoneIndex == nil || *params.AvailabilityZoneIndex != 0 || !slices.Equal(params.AvailabilityZones, []string{"az1"}) {
		t.Fatalf("expected zone index 0 of [az1], got %v", params.AvailabilityZoneIndex)
	}
}

func TestBuild_MissingNativeIDs(t *testing.T) {
	plan := buildPlan(t, scenarioTemplate(), scenarioRequest())
	plan.VNFs[1].VMs[0].FlavorID = ""
	_, err := (&Builder{}).Build(context.Background(), plan)
	if errdefs.Code(err) != http.StatusBadRequest {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func sfcTemplate() *topology.Template {
	return &topology.Template{
		Networks: []topology.Network{
			{Name: "data", Endpoints: []topology.Endpoint{
				{MemberVNFIndex: "1", VDU: "fw", Interface: "in"},
				{MemberVNFIndex: "1", VDU: "fw", Interface: "out"},
				{MemberVNFIndex: "2", VDU: "client", Interface: "eth0"},
			}},
		},
		VNFs: []topology.VNF{
			{MemberVNFIndex: "1", VDUs: []topology.VDU{vdu("fw", 2, topology.Interface{Name: "in"}, topology.Interface{Name: "out"})}},
			{MemberVNFIndex: "2", VDUs: []topology.VDU{vdu("client", 1, topology.Interface{Name: "eth0"})}},
		},
		VNFFGs: []topology.VNFFG{{
			Name: "fg",
			RSPs: []topology.RSP{{ID: "rsp", Hops: []topology.Hop{{MemberVNFIndex: "1", VDU: "fw", Ingress: "in", Egress: "out"}}}},
			Classifiers: []topology.Classifier{{
				Name: "web", RSP: "rsp", MemberVNFIndex: "2", VDU: "client", Interface: "eth0",
				Matches: []map[string]string{{"ip_proto": "6", "destination_port": "80"}, {"ip_proto": "6", "destination_port": "443"}},
			}},
		}},
	}
}

func TestBuild_VNFFG(t *testing.T) {
	graph := build(t, &Builder{}, buildPlan(t, sfcTemplate(), &topology.Request{Name: "inst", Datacenter: "dc-1"}))
	vms := tasksOf(graph, ItemVM)
	sfis := tasksOf(graph, ItemSFI)
	sfs := tasksOf(graph, ItemSF)
	classifications := tasksOf(graph, ItemClassification)
	sfps := tasksOf(graph, ItemSFP)
	if len(sfis) != 2 || len(sfs) != 1 || len(classifications) != 2 || len(sfps) != 1 {
		t.Fatalf("expected 2 sfis, 1 sf, 2 classifications, 1 sfp, got %d %d %d %d",
			len(sfis), len(sfs), len(classifications), len(sfps))
	}
	for i, sfi := range sfis {
		if !slices.Equal(sfi.DependsOn, []Dependency{Local(vms[i].Index)}) {
			t.Fatalf("expected sfi %d to depend on its vm, got %v", i, sfi.DependsOn)
		}
		if graph.SFIs[i].InstanceSFID != graph.SFs[0].ID || graph.SFIs[i].InstanceVMID != graph.VMs[i].ID {
			t.Fatal("expected sfi rows to reference their sf and vm")
		}
	}
	if graph.SFs[0].InstanceSFPID != graph.SFPs[0].ID {
		t.Fatalf("expected sf row to reference sfp %s, got %q", graph.SFPs[0].ID, graph.SFs[0].InstanceSFPID)
	}
	for _, cl := range graph.Classifications {
		if cl.InstanceSFPID != graph.SFPs[0].ID {
			t.Fatalf("expected classification row to reference sfp %s, got %q", graph.SFPs[0].ID, cl.InstanceSFPID)
		}
	}
	if !slices.Equal(sfs[0].DependsOn, []Dependency{Local(sfis[0].Index), Local(sfis[1].Index)}) {
		t.Fatalf("expected sf to depend on its sfis, got %v", sfs[0].DependsOn)
	}
	for _, c := range classifications {
		if !slices.Equal(c.DependsOn, []Dependency{Local(vms[2].Index)}) {
			t.Fatalf("expected classification to depend on the client vm, got %v", c.DependsOn)
		}
	}
	want := []Dependency{Local(sfs[0].Index), Local(classifications[0].Index), Local(classifications[1].Index)}
	if !slices.Equal(sfps[0].DependsOn, want) {
		t.Fatalf("expected sfp deps %v, got %v", want, sfps[0].DependsOn)
	}
}

func TestBuild_VNFFGSpanningAccounts(t *testing.T) {
	req := &topology.Request{Name: "inst", Datacenter: "dc-1", VNFs: map[string]topology.VNFOverride{"2": {Datacenter: "dc-2"}}}
	_, err := (&Builder{}).Build(context.Background(), buildPlan(t, sfcTemplate(), req))
	if errdefs.Code(err) != http.StatusBadRequest {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGraph_Stage(t *testing.T) {
	graph := build(t, &Builder{}, buildPlan(t, sfcTemplate(), &topology.Request{Name: "inst", Datacenter: "dc-1"}))
	var b catalog.Batch
	if err := graph.Stage(&b, "act-1", 42); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	rows := 1 + len(graph.VNFs) + len(graph.Nets) + len(graph.VMs) + len(graph.Interfaces) +
		len(graph.SFIs) + len(graph.SFs) + len(graph.Classifications) + len(graph.SFPs) + len(graph.Tasks)
	if b.Len() != rows {
		t.Fatalf("expected %d staged rows, got %d", rows, b.Len())
	}

	row, err := graph.Tasks[len(graph.Tasks)-1].Row("act-1", 42)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if row.Status != StatusScheduled || row.Verb != "CREATE" || row.Item != ItemSFP {
		t.Fatalf("expected scheduled sfp create, got %v", row)
	}
	var extra struct {
		DependsOn []Dependency `yaml:"depends_on"`
	}
	if err := yaml.Unmarshal([]byte(row.Extra), &extra); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(extra.DependsOn) != 3 {
		t.Fatalf("expected 3 persisted dependencies, got %v", extra.DependsOn)
	}

	graph.Tasks[0].DependsOn = []Dependency{Local(5)}
	var invalid catalog.Batch
	err = graph.Stage(&invalid, "act-1", 42)
	var validation *errdefs.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for a forward dependency, got %v", err)
	}
}

func TestDecodeVM(t *testing.T) {
	graph := build(t, &Builder{}, buildPlan(t, scenarioTemplate(), scenarioRequest()))
	task := tasksOf(graph, ItemVM)[0]
	row, err := task.Row("act-1", 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	params, deps, err := DecodeVM(row)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if params.Name != "inst.1.a.1" || params.Interfaces[0].Net != Local(0) || params.Interfaces[0].IPAddress != "10.0.0.10" {
		t.Fatalf("expected decoded vm params, got %v", params)
	}
	if !slices.Equal(deps, []Dependency{Local(0)}) {
		t.Fatalf("expected dependency on task 0, got %v", deps)
	}
	if _, _, err := DecodeVM(catalog.VIMAction{Item: ItemNet}); err == nil {
		t.Fatal("expected error for a network task")
	}
}
