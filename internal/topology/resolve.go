// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/cobaltcore-dev/conductor/internal/cloudinit"
	"github.com/cobaltcore-dev/conductor/internal/errdefs"
	"github.com/cobaltcore-dev/conductor/internal/vim"
	"github.com/majewsky/gg/option"
)

// Longest base name of a vm, leaving room for the replica ordinal.
const maxVMBaseName = 250

type endpointKey struct {
	vnf, vdu, iface string
}

type resolver struct {
	ctx      context.Context
	accounts vim.Accounts
	tmpl     *Template
	req      *Request
	plan     *Plan

	// Template networks by name and the endpoints attached to them.
	networks  map[string]*PlanNetwork
	endpoints map[endpointKey]*PlanNetwork
}

// Resolve applies the overrides of req to tmpl and resolves every vim account
// involved. Accounts are connected through the given registry, which
// connects each of them at most once.
//
// Overrides naming an unknown network, vnf, vdu, interface or device and
// structural inconsistencies of the template are validation errors.
func Resolve(ctx context.Context, accounts vim.Accounts, tmpl *Template, req *Request) (*Plan, error) {
	if tmpl == nil || req == nil {
		return nil, errdefs.Validationf("template and instance are required")
	}
	if req.Name == "" {
		return nil, errdefs.Validationf("instance name is required")
	}
	if req.Datacenter == "" {
		return nil, errdefs.Validationf("instance datacenter is required")
	}
	r := &resolver{
		ctx:       ctx,
		accounts:  accounts,
		tmpl:      tmpl,
		req:       req,
		networks:  make(map[string]*PlanNetwork),
		endpoints: make(map[endpointKey]*PlanNetwork),
	}
	if err := r.checkOverrides(); err != nil {
		return nil, err
	}
	defaultAccount, err := accounts.Get(ctx, req.Datacenter)
	if err != nil {
		return nil, fmt.Errorf("resolve default datacenter: %w", err)
	}
	r.plan = &Plan{
		Name:        req.Name,
		Description: req.Description,
		TemplateID:  tmpl.ID,
		Default:     defaultAccount,
		CloudConfig: cloudinit.Merge(tmpl.CloudConfig, req.CloudConfig),
		VNFFGs:      tmpl.VNFFGs,
	}
	if err := r.resolveNetworks(); err != nil {
		return nil, err
	}
	for i := range tmpl.VNFs {
		if err := r.resolveVNF(&tmpl.VNFs[i]); err != nil {
			return nil, err
		}
	}
	if err := r.checkVNFFGs(); err != nil {
		return nil, err
	}
	slog.Debug("resolved instance plan", "instance", req.Name,
		"networks", len(r.plan.Networks), "vnfs", len(r.plan.VNFs), "accounts", len(r.plan.Accounts()))
	return r.plan, nil
}

// Find the template vnf referenced by member index or name.
func (t *Template) findVNF(ref string) *VNF {
	for i := range t.VNFs {
		if t.VNFs[i].MemberVNFIndex == ref {
			return &t.VNFs[i]
		}
	}
	for i := range t.VNFs {
		if t.VNFs[i].Name == ref {
			return &t.VNFs[i]
		}
	}
	return nil
}

// Find the vdu referenced by id or name.
func (v *VNF) findVDU(ref string) *VDU {
	for i := range v.VDUs {
		if v.VDUs[i].ID == ref {
			return &v.VDUs[i]
		}
	}
	for i := range v.VDUs {
		if v.VDUs[i].Name == ref {
			return &v.VDUs[i]
		}
	}
	return nil
}

func (v *VDU) findInterface(name string) *Interface {
	for i := range v.Interfaces {
		if v.Interfaces[i].Name == name {
			return &v.Interfaces[i]
		}
	}
	return nil
}

func (v *VDU) hasDevice(name string) bool {
	if v.Flavor.Extended == nil {
		return false
	}
	for _, d := range v.Flavor.Extended.Devices {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Lookup of the overrides of a template vnf, by member index or name.
func (r *resolver) vnfOverride(vnf *VNF) VNFOverride {
	if ov, ok := r.req.VNFs[vnf.MemberVNFIndex]; ok {
		return ov
	}
	return r.req.VNFs[vnf.Name]
}

func (o VNFOverride) vdu(vdu *VDU) VDUOverride {
	if ov, ok := o.VDUs[vdu.ID]; ok {
		return ov
	}
	return o.VDUs[vdu.Name]
}

func (r *resolver) checkOverrides() error {
	for name := range r.req.Networks {
		found := false
		for _, n := range r.tmpl.Networks {
			found = found || n.Name == name
		}
		if !found {
			return errdefs.Validationf("invalid network %q at instance networks", name)
		}
	}
	for ref, vnfOv := range r.req.VNFs {
		vnf := r.tmpl.findVNF(ref)
		if vnf == nil {
			return errdefs.Validationf("invalid vnf %q at instance vnfs", ref)
		}
		for name := range vnfOv.Networks {
			found := false
			for _, n := range vnf.Networks {
				found = found || n.Name == name
			}
			if !found {
				return errdefs.Validationf("invalid network %q at instance vnfs %s", name, ref)
			}
		}
		for vduRef, vduOv := range vnfOv.VDUs {
			vdu := vnf.findVDU(vduRef)
			if vdu == nil {
				return errdefs.Validationf("invalid vdu %q at instance vnfs %s", vduRef, ref)
			}
			for name := range vduOv.Interfaces {
				if vdu.findInterface(name) == nil {
					return errdefs.Validationf("invalid interface %q at instance vnfs %s vdus %s", name, ref, vduRef)
				}
			}
			for name := range vduOv.Devices {
				if !vdu.hasDevice(name) {
					return errdefs.Validationf("invalid device %q at instance vnfs %s vdus %s", name, ref, vduRef)
				}
			}
		}
	}
	return nil
}

func (r *resolver) resolveNetworks() error {
	for _, n := range r.tmpl.Networks {
		if _, ok := r.networks[n.Name]; ok {
			return errdefs.Validationf("network %q is defined twice", n.Name)
		}
		ov := r.req.Networks[n.Name]
		net := &PlanNetwork{
			Name:           n.Name,
			Type:           n.Type,
			External:       n.External,
			IPProfile:      n.IPProfile.Apply(ov.IPProfile),
			VimID:          n.VimID,
			VimNetworkName: ov.VimNetworkName,
			WAN:            ov.WAN.Or(r.req.WAN),
		}
		if net.Type == "" {
			net.Type = vim.NetworkBridge
		}
		withoutDatacenter := false
		for _, site := range ov.Sites {
			account := r.plan.Default
			if site.Datacenter == "" {
				if withoutDatacenter {
					return errdefs.Validationf("found more than one site without datacenter at instance networks %s", n.Name)
				}
				withoutDatacenter = true
			} else {
				var err error
				account, err = r.accounts.Get(r.ctx, site.Datacenter)
				if err != nil {
					return fmt.Errorf("resolve site of network %s: %w", n.Name, err)
				}
			}
			if _, ok := net.Site(account.ID); ok {
				return errdefs.Validationf("network %s has more than one site at %s", n.Name, account.ID)
			}
			net.Sites = append(net.Sites, SiteHint{Account: account, NetmapUse: site.NetmapUse, NetmapCreate: site.NetmapCreate})
		}
		for _, ep := range n.Endpoints {
			vnf := r.tmpl.findVNF(ep.MemberVNFIndex)
			if vnf == nil {
				return errdefs.Validationf("network %s references unknown vnf %q", n.Name, ep.MemberVNFIndex)
			}
			vdu := vnf.findVDU(ep.VDU)
			if vdu == nil || vdu.findInterface(ep.Interface) == nil {
				return errdefs.Validationf("network %s references unknown interface %s of vnf %s vdu %s",
					n.Name, ep.Interface, ep.MemberVNFIndex, ep.VDU)
			}
			key := endpointKey{vnf.MemberVNFIndex, vdu.ID, ep.Interface}
			if other, ok := r.endpoints[key]; ok {
				return errdefs.Validationf("interface %s of vnf %s vdu %s is attached to networks %s and %s",
					ep.Interface, ep.MemberVNFIndex, ep.VDU, other.Name, n.Name)
			}
			r.endpoints[key] = net
		}
		r.networks[n.Name] = net
		r.plan.Networks = append(r.plan.Networks, net)
	}
	return nil
}

func (r *resolver) resolveVNF(vnf *VNF) error {
	ov := r.vnfOverride(vnf)
	account := r.plan.Default
	if ov.Datacenter != "" {
		var err error
		account, err = r.accounts.Get(r.ctx, ov.Datacenter)
		if err != nil {
			return fmt.Errorf("resolve datacenter of vnf %s: %w", vnf.MemberVNFIndex, err)
		}
	}
	if r.plan.VNF(vnf.MemberVNFIndex) != nil {
		return errdefs.Validationf("member vnf index %q is used twice", vnf.MemberVNFIndex)
	}
	planVNF := &PlanVNF{MemberVNFIndex: vnf.MemberVNFIndex, Name: vnf.Name, Account: account}

	internal := make(map[string]*PlanNetwork, len(vnf.Networks))
	for _, n := range vnf.Networks {
		netOv := ov.Networks[n.Name]
		net := &PlanNetwork{
			Name:           n.Name,
			VNF:            planVNF,
			Type:           n.Type,
			IPProfile:      n.IPProfile.Apply(netOv.IPProfile),
			VimNetworkName: netOv.VimNetworkName,
			VimNetworkID:   netOv.VimNetworkID,
			WAN:            NoWAN(),
		}
		if net.Type == "" {
			net.Type = vim.NetworkBridge
		}
		internal[n.Name] = net
		r.plan.Networks = append(r.plan.Networks, net)
	}

	for i := range vnf.VDUs {
		vm, err := r.resolveVDU(vnf, &vnf.VDUs[i], ov.vdu(&vnf.VDUs[i]), account, internal)
		if err != nil {
			return err
		}
		planVNF.VMs = append(planVNF.VMs, vm)
	}
	r.plan.VNFs = append(r.plan.VNFs, planVNF)
	return nil
}

func (r *resolver) resolveVDU(vnf *VNF, vdu *VDU, ov VDUOverride, account *vim.Account, internal map[string]*PlanNetwork) (*PlanVM, error) {
	where := fmt.Sprintf("vnf %s vdu %s", vnf.MemberVNFIndex, vdu.ID)
	vm := &PlanVM{
		VDU:         vdu.ID,
		Description: vdu.Description,
		Count:       vdu.Count,
		Image:       vdu.Image,
		Flavor:      vdu.Flavor,
	}
	if vm.Count == 0 {
		vm.Count = 1
	}
	if vm.Count < 0 {
		return nil, errdefs.Validationf("%s: count must not be negative", where)
	}
	vnfName := vnf.MemberVNFIndex
	if vnfName == "" {
		vnfName = vnf.Name
	}
	vduName := vdu.Name
	if vduName == "" {
		vduName = vdu.ID
	}
	vm.Name = fmt.Sprintf("%s.%s.%s", r.req.Name, vnfName, vduName)
	if ov.Name != "" {
		vm.Name = ov.Name
	}
	if len(vm.Name) > maxVMBaseName {
		vm.Name = vm.Name[:maxVMBaseName]
	}
	if vm.Description == "" {
		vm.Description = vm.Name
	}
	if vdu.AvailabilityZone != "" {
		index := account.ZoneIndex(vdu.AvailabilityZone)
		if index < 0 {
			return nil, errdefs.Validationf("%s: availability zone %q not available at %s", where, vdu.AvailabilityZone, account.ID)
		}
		vm.ZoneIndex = option.Some(index)
	}
	if len(ov.Devices) > 0 {
		vm.DiskSizes = make(map[string]int, len(ov.Devices))
		for name, d := range ov.Devices {
			vm.DiskSizes[name] = d.Size
		}
	}

	for _, tmplIface := range vdu.Interfaces {
		iface, err := r.resolveInterface(vnf, vdu, tmplIface, ov.Interfaces[tmplIface.Name], internal)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		if iface == nil {
			slog.Debug("skipping unattached interface", "vnf", vnf.MemberVNFIndex, "vdu", vdu.ID, "interface", tmplIface.Name)
			continue
		}
		vm.Interfaces = append(vm.Interfaces, iface)
	}

	var requestKeys *cloudinit.Config
	if vm.HasMgmt() {
		requestKeys = cloudinit.WithKeyPairs(r.req.MgmtKeys)
	}
	vm.CloudConfig = cloudinit.MergeAll(
		r.tmpl.CloudConfig,
		vnf.BootData,
		vdu.BootData,
		ov.CloudConfig,
		cloudinit.WithKeyPairs(ov.MgmtKeys),
		r.req.CloudConfig,
		requestKeys,
	)
	return vm, nil
}

// Returns nil if the interface is attached to no network.
func (r *resolver) resolveInterface(vnf *VNF, vdu *VDU, tmpl Interface, ov InterfaceOverride, internal map[string]*PlanNetwork) (*PlanInterface, error) {
	net := r.endpoints[endpointKey{vnf.MemberVNFIndex, vdu.ID, tmpl.Name}]
	if tmpl.InternalNet != "" {
		if net != nil {
			return nil, errdefs.Validationf("interface %s is attached to network %s and internal network %s", tmpl.Name, net.Name, tmpl.InternalNet)
		}
		net = internal[tmpl.InternalNet]
		if net == nil {
			return nil, errdefs.Validationf("interface %s references unknown internal network %q", tmpl.Name, tmpl.InternalNet)
		}
	}
	if net == nil {
		return nil, nil
	}
	iface := &PlanInterface{
		Name:       tmpl.Name,
		Use:        tmpl.Use,
		Model:      tmpl.Model,
		VPCI:       tmpl.VPCI,
		Network:    net,
		FloatingIP: tmpl.FloatingIP,
	}
	switch tmpl.Use {
	case "", UseBridge:
		iface.Use = UseBridge
		iface.Type = "virtual"
	case UseMgmt:
		iface.Type = "virtual"
	case UseData:
		if tmpl.Model == "" {
			return nil, errdefs.Validationf("cannot determine the type of data interface %s, set its model", tmpl.Name)
		}
		iface.Type = tmpl.Model
	default:
		return nil, errdefs.Validationf("interface %s has unknown use %q", tmpl.Name, tmpl.Use)
	}

	ip := tmpl.IPAddress
	if ov.IPAddress != "" {
		ip = ov.IPAddress
	}
	if ip != "" {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return nil, errdefs.Validationf("interface %s has invalid ip address %q", tmpl.Name, ip)
		}
		iface.IPAddress = option.Some(addr)
	}
	mac := tmpl.MACAddress
	if ov.MACAddress != "" {
		mac = ov.MACAddress
	}
	if mac != "" {
		iface.MACAddress = option.Some(mac)
	}
	if ov.FloatingIP != nil {
		iface.FloatingIP = *ov.FloatingIP
	}
	portSecurity := tmpl.PortSecurity
	if ov.PortSecurity != nil {
		portSecurity = ov.PortSecurity
	}
	if portSecurity != nil {
		iface.PortSecurity = option.Some(*portSecurity)
	}
	return iface, nil
}

// Check that forwarding graphs only reference attached vm interfaces.
func (r *resolver) checkVNFFGs() error {
	checkIface := func(where, vnfRef, vduRef string, ifaces ...string) error {
		vnf := r.plan.VNF(vnfRef)
		if vnf == nil {
			return errdefs.Validationf("%s references unknown vnf %q", where, vnfRef)
		}
		var vm *PlanVM
		for _, candidate := range vnf.VMs {
			if candidate.VDU == vduRef {
				vm = candidate
			}
		}
		if vm == nil {
			return errdefs.Validationf("%s references unknown vdu %q of vnf %s", where, vduRef, vnfRef)
		}
		for _, name := range ifaces {
			if vm.Interface(name) == nil {
				return errdefs.Validationf("%s references unknown interface %q of vnf %s vdu %s", where, name, vnfRef, vduRef)
			}
		}
		return nil
	}
	for _, fg := range r.tmpl.VNFFGs {
		rsps := make(map[string]bool, len(fg.RSPs))
		for _, rsp := range fg.RSPs {
			if rsps[rsp.ID] {
				return errdefs.Validationf("vnffg %s defines rsp %q twice", fg.Name, rsp.ID)
			}
			rsps[rsp.ID] = true
			if len(rsp.Hops) == 0 {
				return errdefs.Validationf("rsp %s of vnffg %s has no hops", rsp.ID, fg.Name)
			}
			for i, hop := range rsp.Hops {
				where := fmt.Sprintf("hop %d of rsp %s", i, rsp.ID)
				if err := checkIface(where, hop.MemberVNFIndex, hop.VDU, hop.Ingress, hop.Egress); err != nil {
					return err
				}
			}
		}
		for _, c := range fg.Classifiers {
			if !rsps[c.RSP] {
				return errdefs.Validationf("classifier %s references unknown rsp %q", c.Name, c.RSP)
			}
			if err := checkIface("classifier "+c.Name, c.MemberVNFIndex, c.VDU, c.Interface); err != nil {
				return err
			}
		}
	}
	return nil
}
