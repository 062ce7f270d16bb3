// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package taskgraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cobaltcore-dev/conductor/internal/catalog"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/topology"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Vim names are limited to this many characters.
const maxNameLength = 255

// WANSelector picks a wan account able to interconnect the datacenters.
type WANSelector interface {
	SelectAccount(ctx context.Context, tenantID string, datacenters []string) (string, error)
}

// Builder compiles one instance plan.
type Builder struct {
	TenantID   string
	InstanceID string
	// Timestamp of the first row, later rows get later timestamps.
	Now int64
	// Nil disables automatic wan account selection.
	WAN WANSelector

	graph *Graph
	plan  *topology.Plan
	// Row ids of the vnfs.
	vnfRows map[*topology.PlanVNF]string
	// Task index and row id of each network per account id.
	netTasks map[*topology.PlanNetwork]map[string]int
	netRows  map[*topology.PlanNetwork]map[string]string
	// Task indices and row ids of the replicas of each vm.
	vmTasks map[*topology.PlanVM][]int
	vmRows  map[*topology.PlanVM][]string
}

func (b *Builder) tick() int64 {
	b.Now++
	return b.Now
}

// Build emits the tasks of the plan: networks first, then vms, then the
// elements of the forwarding graphs. Vms must have their native image and
// flavor ids set. Nothing is persisted.
func (b *Builder) Build(ctx context.Context, plan *topology.Plan) (*Graph, error) {
	b.plan = plan
	b.graph = &Graph{}
	b.vnfRows = make(map[*topology.PlanVNF]string)
	b.netTasks = make(map[*topology.PlanNetwork]map[string]int)
	b.netRows = make(map[*topology.PlanNetwork]map[string]string)
	b.vmTasks = make(map[*topology.PlanVM][]int)
	b.vmRows = make(map[*topology.PlanVM][]string)

	cloudConfig, err := encodeCloudConfig(plan)
	if err != nil {
		return nil, err
	}
	b.graph.Instance = &catalog.Instance{
		ID:          b.InstanceID,
		TenantID:    b.TenantID,
		Name:        plan.Name,
		Description: plan.Description,
		TemplateID:  plan.TemplateID,
		AccountID:   plan.Default.ID,
		CloudConfig: cloudConfig,
		CreatedAt:   b.tick(),
	}
	for _, vnf := range plan.VNFs {
		id := uuid.NewString()
		b.vnfRows[vnf] = id
		b.graph.VNFs = append(b.graph.VNFs, catalog.InstanceVNF{
			ID:             id,
			InstanceID:     b.InstanceID,
			MemberVNFIndex: vnf.MemberVNFIndex,
			VNFName:        vnf.Name,
			AccountID:      vnf.Account.ID,
			CreatedAt:      b.tick(),
		})
	}
	if err := b.buildNetworks(ctx); err != nil {
		return nil, err
	}
	for _, vnf := range plan.VNFs {
		for _, vm := range vnf.VMs {
			if err := b.buildVM(vnf, vm); err != nil {
				return nil, err
			}
		}
	}
	for _, fg := range plan.VNFFGs {
		if err := b.buildVNFFG(fg); err != nil {
			return nil, err
		}
	}
	if err := b.graph.Check(); err != nil {
		return nil, errdefs.Validationf("inconsistent task graph: %v", err)
	}
	slog.Info("compiled instance", "instance", b.InstanceID, "tasks", len(b.graph.Tasks),
		"networks", len(b.graph.Nets), "vms", len(b.graph.VMs))
	return b.graph, nil
}

func encodeCloudConfig(plan *topology.Plan) (string, error) {
	if plan.CloudConfig.IsEmpty() {
		return "", nil
	}
	out, err := yaml.Marshal(plan.CloudConfig)
	if err != nil {
		return "", fmt.Errorf("encode cloud config: %w", err)
	}
	return string(out), nil
}

// Accounts hosting the network: those of vnfs with a vm attached to it and
// those named by its sites, falling back to the default account.
func (b *Builder) hostingAccounts(net *topology.PlanNetwork) []*vim.Account {
	if net.VNF != nil {
		return []*vim.Account{net.VNF.Account}
	}
	var out []*vim.Account
	seen := make(map[string]bool)
	add := func(a *vim.Account) {
		if !seen[a.ID] {
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	for _, vnf := range b.plan.VNFs {
	vms:
		for _, vm := range vnf.VMs {
			for _, iface := range vm.Interfaces {
				if iface.Network == net {
					add(vnf.Account)
					break vms
				}
			}
		}
	}
	for _, site := range net.Sites {
		add(site.Account)
	}
	if len(out) == 0 {
		add(b.plan.Default)
	}
	return out
}

func (b *Builder) buildNetworks(ctx context.Context) error {
	externals := 0
	for _, net := range b.plan.Networks {
		if net.External {
			externals++
		}
	}
	for _, net := range b.plan.Networks {
		accounts := b.hostingAccounts(net)
		wanAccount, err := b.selectWAN(ctx, net, accounts)
		if err != nil {
			return err
		}
		b.netTasks[net] = make(map[string]int, len(accounts))
		b.netRows[net] = make(map[string]string, len(accounts))
		related := ""
		for _, account := range accounts {
			task, err := b.networkTask(net, account, externals)
			if err != nil {
				return err
			}
			id := uuid.NewString()
			if related == "" {
				related = id
			}
			row := catalog.InstanceNet{
				ID:           id,
				InstanceID:   b.InstanceID,
				NetName:      net.Name,
				AccountID:    account.ID,
				Related:      related,
				Type:         string(net.Type),
				Created:      task.Verb == VerbCreate,
				External:     net.External,
				WANAccountID: wanAccount,
				CreatedAt:    b.tick(),
			}
			if params, ok := task.Params.(NetworkParams); ok {
				row.Name = params.Name
				params.WANAccount = wanAccount
				task.Params = params
			} else if task.Find != nil {
				row.Name = task.Find.Name
			}
			if net.VNF != nil {
				row.InstanceVNFID = b.vnfRows[net.VNF]
			}
			task.ItemID = id
			b.graph.Nets = append(b.graph.Nets, row)
			if p := net.IPProfile; p != nil {
				b.graph.IPProfiles = append(b.graph.IPProfiles, ipProfileRow(id, p))
			}
			b.netTasks[net][account.ID] = b.graph.Add(task)
			b.netRows[net][account.ID] = id
		}
		if len(accounts) > 1 {
			usage := WANUsage{Related: related, NetName: net.Name, WANAccountID: wanAccount}
			for _, a := range accounts {
				usage.AccountIDs = append(usage.AccountIDs, a.ID)
				usage.Datacenters = append(usage.Datacenters, a.DatacenterID)
			}
			b.graph.WANUsage = append(b.graph.WANUsage, usage)
		}
	}
	return nil
}

// Wan account of a network spread over several accounts, or empty.
func (b *Builder) selectWAN(ctx context.Context, net *topology.PlanNetwork, accounts []*vim.Account) (string, error) {
	if len(accounts) < 2 || net.VNF != nil || net.WAN.IsNone() {
		return "", nil
	}
	if account, ok := net.WAN.Account(); ok {
		return account, nil
	}
	if b.WAN == nil {
		slog.Warn("network spans several datacenters but no wan is configured", "network", net.Name)
		return "", nil
	}
	datacenters := make([]string, 0, len(accounts))
	for _, a := range accounts {
		datacenters = append(datacenters, a.DatacenterID)
	}
	account, err := b.WAN.SelectAccount(ctx, b.TenantID, datacenters)
	if err != nil {
		return "", fmt.Errorf("select wan account for network %s: %w", net.Name, err)
	}
	return account, nil
}

func findFilter(ref string) *vim.NetworkFilter {
	if uuid.Validate(ref) == nil {
		return &vim.NetworkFilter{ID: ref}
	}
	return &vim.NetworkFilter{Name: ref}
}

// The create or find task of the network at the account.
func (b *Builder) networkTask(net *topology.PlanNetwork, account *vim.Account, externals int) (Task, error) {
	task := Task{AccountID: account.ID, Item: ItemNet}
	create := func(name string) {
		task.Verb = VerbCreate
		task.Params = NetworkParams{Name: name, Type: net.Type, IPProfile: net.IPProfile}
	}
	find := func(filter *vim.NetworkFilter) {
		task.Verb = VerbFind
		task.Find = filter
	}

	name := fmt.Sprintf("%s-%s", b.plan.Name, net.Name)
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	if net.VNF != nil {
		switch {
		case net.VimNetworkID != "":
			find(&vim.NetworkFilter{ID: net.VimNetworkID, Name: net.VimNetworkName})
		case net.VimNetworkName != "":
			find(&vim.NetworkFilter{Name: net.VimNetworkName})
		default:
			create(name)
		}
		return task, nil
	}

	site, _ := net.Site(account.ID)
	switch {
	case site.NetmapUse != "" || site.NetmapCreate != "":
		if site.NetmapUse != "" {
			find(findFilter(site.NetmapUse))
		}
		if site.NetmapCreate != "" {
			// A netmap-use filter stays as lookup before creation.
			create(site.NetmapCreate)
		}
	case net.VimNetworkName != "":
		find(&vim.NetworkFilter{Name: net.VimNetworkName})
	case net.External && net.VimID != "":
		find(&vim.NetworkFilter{ID: net.VimID})
	case net.External && (account.ManagementNetworkID != "" || account.ManagementNetworkName != ""):
		if externals > 1 {
			return Task{}, errdefs.Validationf("found several external networks, set the vim network of %s explicitly", net.Name)
		}
		if account.ManagementNetworkID != "" {
			find(&vim.NetworkFilter{ID: account.ManagementNetworkID})
		} else {
			find(&vim.NetworkFilter{Name: account.ManagementNetworkName})
		}
	case net.External:
		// Look for a network with the template name, create it if missing.
		create(net.Name)
		task.Find = &vim.NetworkFilter{Name: net.Name}
	default:
		create(name)
	}
	return task, nil
}

func ipProfileRow(netID string, p *vim.IPProfile) catalog.IPProfile {
	row := catalog.IPProfile{
		InstanceNetID:    netID,
		IPVersion:        p.IPVersion,
		SubnetAddress:    p.SubnetAddress,
		GatewayAddress:   p.GatewayAddress,
		DHCPEnabled:      p.DHCPEnabled == nil || *p.DHCPEnabled,
		DHCPStartAddress: p.DHCPStartAddress,
		DHCPCount:        p.DHCPCount,
	}
	for i, dns := range p.DNSAddress {
		if i > 0 {
			row.DNSAddress += ";"
		}
		row.DNSAddress += dns
	}
	return row
}

// Disks of the vm with the requested size overrides applied.
func vmDisks(vm *topology.PlanVM) []vim.Disk {
	if len(vm.Disks) == 0 {
		return nil
	}
	disks := make([]vim.Disk, len(vm.Disks))
	copy(disks, vm.Disks)
	for i := range disks {
		if size, ok := vm.DiskSizes[disks[i].Name]; ok {
			disks[i].Size = size
		}
	}
	return disks
}

func (b *Builder) buildVM(vnf *topology.PlanVNF, vm *topology.PlanVM) error {
	if vm.ImageID == "" || vm.FlavorID == "" {
		return errdefs.Validationf("vdu %s of vnf %s has no image or flavor at %s", vm.VDU, vnf.MemberVNFIndex, vnf.Account.ID)
	}
	account := vnf.Account
	var zoneIndex *int
	if zone, ok := vm.ZoneIndex.Unpack(); ok {
		zoneIndex = &zone
	}
	disks := vmDisks(vm)

	for replica := range vm.Count {
		vmID := uuid.NewString()
		params := VMParams{
			Name:                  fmt.Sprintf("%s.%d", vm.Name, replica+1),
			Description:           vm.Description,
			ImageID:               vm.ImageID,
			FlavorID:              vm.FlavorID,
			CloudConfig:           vm.CloudConfig,
			Disks:                 disks,
			AvailabilityZoneIndex: zoneIndex,
			AvailabilityZones:     account.AvailabilityZones,
		}
		var deps []Dependency
		createdAt := b.tick()
		for position, iface := range vm.Interfaces {
			netTask, ok := b.netTasks[iface.Network][account.ID]
			if !ok {
				return errdefs.Validationf("network %s of interface %s is not available at %s",
					iface.Network.Name, iface.Name, account.ID)
			}
			deps = append(deps, Local(netTask))
			ifaceParams := InterfaceParams{
				VMInterface: vim.VMInterface{
					Name:       iface.Name,
					Use:        iface.Use,
					Type:       iface.Type,
					Model:      iface.Model,
					VPCI:       iface.VPCI,
					FloatingIP: iface.FloatingIP,
				},
				Net: Local(netTask),
			}
			if ps, ok := iface.PortSecurity.Unpack(); ok {
				ifaceParams.PortSecurity = &ps
			}
			if ip, ok := iface.IPAddress.Unpack(); ok {
				if addr, ok := OffsetAddr(ip, replica); ok {
					ifaceParams.IPAddress = addr.String()
				} else {
					slog.Warn("static ip address range exhausted, replica gets a dynamic address",
						"vm", params.Name, "interface", iface.Name, "base", ip.String())
				}
			}
			// Mac addresses are unique, replicas get generated ones.
			if mac, ok := iface.MACAddress.Unpack(); ok && replica == 0 {
				ifaceParams.MACAddress = mac
			}
			params.Interfaces = append(params.Interfaces, ifaceParams)
			b.graph.Interfaces = append(b.graph.Interfaces, interfaceRow(vmID, b.netRows[iface.Network][account.ID], position, iface, ifaceParams))
		}
		index := b.graph.Add(Task{
			AccountID: account.ID,
			Verb:      VerbCreate,
			Item:      ItemVM,
			ItemID:    vmID,
			Params:    params,
			DependsOn: deps,
		})
		b.graph.VMs = append(b.graph.VMs, catalog.InstanceVM{
			ID:            vmID,
			InstanceID:    b.InstanceID,
			InstanceVNFID: b.vnfRows[vnf],
			VDUID:         vm.VDU,
			AccountID:     account.ID,
			Name:          params.Name,
			CreatedAt:     createdAt,
		})
		b.vmTasks[vm] = append(b.vmTasks[vm], index)
		b.vmRows[vm] = append(b.vmRows[vm], vmID)
	}
	return nil
}

func interfaceRow(vmID, netID string, position int, iface *topology.PlanInterface, params InterfaceParams) catalog.InstanceInterface {
	row := catalog.InstanceInterface{
		ID:            uuid.NewString(),
		InstanceVMID:  vmID,
		InstanceNetID: netID,
		Position:      position,
		Name:          iface.Name,
		Type:          "internal",
		IPAddress:     params.IPAddress,
		MACAddress:    params.MACAddress,
		FloatingIP:    params.FloatingIP,
	}
	if iface.Network.VNF == nil {
		row.Type = "external"
	}
	if params.PortSecurity != nil {
		row.PortSecurity = "disabled"
		if *params.PortSecurity {
			row.PortSecurity = "enabled"
		}
	}
	return row
}

// The vm blueprint of the vnf with the given vdu id.
func (b *Builder) vduOf(vnfIndex, vdu string) (*topology.PlanVNF, *topology.PlanVM) {
	vnf := b.plan.VNF(vnfIndex)
	if vnf == nil {
		return nil, nil
	}
	for _, vm := range vnf.VMs {
		if vm.VDU == vdu {
			return vnf, vm
		}
	}
	return vnf, nil
}

func (b *Builder) buildVNFFG(fg topology.VNFFG) error {
	for _, rsp := range fg.RSPs {
		// Service paths are confined to a single vim account.
		var account *vim.Account
		sameAccount := func(vnf *topology.PlanVNF) error {
			if account == nil {
				account = vnf.Account
			}
			if vnf.Account.ID != account.ID {
				return errdefs.Validationf("rsp %s of vnffg %s spans accounts %s and %s", rsp.ID, fg.Name, account.ID, vnf.Account.ID)
			}
			return nil
		}

		sfpID := uuid.NewString()
		var sfTasks, classificationTasks []Dependency
		for i, hop := range rsp.Hops {
			vnf, vm := b.vduOf(hop.MemberVNFIndex, hop.VDU)
			if vm == nil {
				return errdefs.Validationf("hop %d of rsp %s references unknown vdu %s", i, rsp.ID, hop.VDU)
			}
			if err := sameAccount(vnf); err != nil {
				return err
			}
			sfID := uuid.NewString()
			var sfiTasks []Dependency
			for replica, vmTask := range b.vmTasks[vm] {
				sfiID := uuid.NewString()
				index := b.graph.Add(Task{
					AccountID: account.ID,
					Verb:      VerbCreate,
					Item:      ItemSFI,
					ItemID:    sfiID,
					Params: SFIParams{
						Name:    fmt.Sprintf("%s.%s.hop%d.%d", b.plan.Name, rsp.ID, i, replica+1),
						VM:      Local(vmTask),
						Ingress: hop.Ingress,
						Egress:  hop.Egress,
					},
					DependsOn: []Dependency{Local(vmTask)},
				})
				sfiTasks = append(sfiTasks, Local(index))
				b.graph.SFIs = append(b.graph.SFIs, catalog.InstanceSFI{
					ID:           sfiID,
					InstanceID:   b.InstanceID,
					AccountID:    account.ID,
					InstanceSFID: sfID,
					InstanceVMID: b.vmRows[vm][replica],
				})
			}
			index := b.graph.Add(Task{
				AccountID: account.ID,
				Verb:      VerbCreate,
				Item:      ItemSF,
				ItemID:    sfID,
				Params:    SFParams{Name: fmt.Sprintf("%s.%s.hop%d", b.plan.Name, rsp.ID, i), SFIs: sfiTasks},
				DependsOn: sfiTasks,
			})
			sfTasks = append(sfTasks, Local(index))
			b.graph.SFs = append(b.graph.SFs, catalog.InstanceSF{
				ID:            sfID,
				InstanceID:    b.InstanceID,
				AccountID:     account.ID,
				RspID:         rsp.ID,
				InstanceSFPID: sfpID,
			})
		}

		for _, c := range fg.Classifiers {
			if c.RSP != rsp.ID {
				continue
			}
			vnf, vm := b.vduOf(c.MemberVNFIndex, c.VDU)
			if vm == nil {
				return errdefs.Validationf("classifier %s references unknown vdu %s", c.Name, c.VDU)
			}
			if err := sameAccount(vnf); err != nil {
				return err
			}
			for replica, vmTask := range b.vmTasks[vm] {
				for m, match := range c.Matches {
					id := uuid.NewString()
					index := b.graph.Add(Task{
						AccountID: account.ID,
						Verb:      VerbCreate,
						Item:      ItemClassification,
						ItemID:    id,
						Params: ClassificationParams{
							Name:       fmt.Sprintf("%s.%s.%d.%d", b.plan.Name, c.Name, replica+1, m),
							Type:       "legacy_flow_classifier",
							VM:         Local(vmTask),
							Interface:  c.Interface,
							Definition: match,
						},
						DependsOn: []Dependency{Local(vmTask)},
					})
					classificationTasks = append(classificationTasks, Local(index))
					b.graph.Classifications = append(b.graph.Classifications, catalog.InstanceClassification{
						ID:            id,
						InstanceID:    b.InstanceID,
						AccountID:     account.ID,
						RspID:         rsp.ID,
						InstanceSFPID: sfpID,
						InstanceVMID:  b.vmRows[vm][replica],
					})
				}
			}
		}

		deps := make([]Dependency, 0, len(sfTasks)+len(classificationTasks))
		deps = append(deps, sfTasks...)
		deps = append(deps, classificationTasks...)
		b.graph.Add(Task{
			AccountID: account.ID,
			Verb:      VerbCreate,
			Item:      ItemSFP,
			ItemID:    sfpID,
			Params: SFPParams{
				Name:            fmt.Sprintf("%s.%s", b.plan.Name, rsp.ID),
				SFs:             sfTasks,
				Classifications: classificationTasks,
			},
			DependsOn: deps,
		})
		b.graph.SFPs = append(b.graph.SFPs, catalog.InstanceSFP{
			ID:         sfpID,
			InstanceID: b.InstanceID,
			AccountID:  account.ID,
			RspID:      rsp.ID,
		})
	}
	return nil
}
