// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package catalog

// Catalog image, deduplicated by its fingerprint.
type Image struct {
	ID            string `db:"id,primarykey"`
	Fingerprint   string `db:"fingerprint"`
	Name          string `db:"name"`
	UniversalName string `db:"universal_name"`
	Location      string `db:"location"`
	Checksum      string `db:"checksum"`
	Description   string `db:"description"`
	DiskFormat    string `db:"disk_format"`
	// Yaml encoded metadata.
	Metadata string `db:"metadata"`
}

func (Image) TableName() string { return "images" }

// Catalog flavor, deduplicated by its fingerprint.
type Flavor struct {
	ID          string `db:"id,primarykey"`
	Fingerprint string `db:"fingerprint"`
	Name        string `db:"name"`
	Disk        int    `db:"disk"`
	RAM         int    `db:"ram"`
	VCPUs       int    `db:"vcpus"`
	// Canonical yaml of the extended flavor spec, empty if none.
	Extended string `db:"extended"`
}

func (Flavor) TableName() string { return "flavors" }

// Native id of a catalog image at one vim account.
type VIMImage struct {
	ImageID   string `db:"image_id,primarykey"`
	AccountID string `db:"account_id,primarykey"`
	VimID     string `db:"vim_id"`
	// Whether the image was created by us or found at the vim.
	Created bool `db:"created"`
}

func (VIMImage) TableName() string { return "vim_images" }

// Native id of a catalog flavor at one vim account.
type VIMFlavor struct {
	FlavorID  string `db:"flavor_id,primarykey"`
	AccountID string `db:"account_id,primarykey"`
	VimID     string `db:"vim_id"`
	Created   bool   `db:"created"`
	// Yaml encoded extra disks derived from the extended spec.
	Disks string `db:"disks"`
}

func (VIMFlavor) TableName() string { return "vim_flavors" }

// A deployed network service.
type Instance struct {
	ID          string `db:"id,primarykey"`
	TenantID    string `db:"tenant_id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	TemplateID  string `db:"template_id"`
	// The default vim account of the instance.
	AccountID string `db:"account_id"`
	// Yaml encoded request level cloud config.
	CloudConfig string `db:"cloud_config"`
	CreatedAt   int64  `db:"created_at"`
}

func (Instance) TableName() string { return "instance_scenarios" }

// One network of an instance at one vim account.
type InstanceNet struct {
	ID         string `db:"id,primarykey"`
	InstanceID string `db:"instance_id"`
	// Name of the network in the template.
	NetName string `db:"net_name"`
	// Set for networks internal to a vnf.
	InstanceVNFID string `db:"instance_vnf_id"`
	AccountID     string `db:"account_id"`
	// Related rows are the same template network at different accounts.
	Related  string `db:"related"`
	Name     string `db:"name"`
	Type     string `db:"type"`
	VimID    string `db:"vim_id"`
	Created  bool   `db:"created"`
	External bool   `db:"external"`
	// Requested or auto-selected wan account, empty for none.
	WANAccountID string `db:"wan_account_id"`
	CreatedAt    int64  `db:"created_at"`
}

func (InstanceNet) TableName() string { return "instance_nets" }

// Subnet settings of an instance network.
type IPProfile struct {
	InstanceNetID    string `db:"instance_net_id,primarykey"`
	IPVersion        string `db:"ip_version"`
	SubnetAddress    string `db:"subnet_address"`
	GatewayAddress   string `db:"gateway_address"`
	DNSAddress       string `db:"dns_address"`
	DHCPEnabled      bool   `db:"dhcp_enabled"`
	DHCPStartAddress string `db:"dhcp_start_address"`
	DHCPCount        int    `db:"dhcp_count"`
}

func (IPProfile) TableName() string { return "ip_profiles" }

type InstanceVNF struct {
	ID             string `db:"id,primarykey"`
	InstanceID     string `db:"instance_id"`
	MemberVNFIndex string `db:"member_vnf_index"`
	VNFName        string `db:"vnf_name"`
	AccountID      string `db:"account_id"`
	CreatedAt      int64  `db:"created_at"`
}

func (InstanceVNF) TableName() string { return "instance_vnfs" }

type InstanceVM struct {
	ID            string `db:"id,primarykey"`
	InstanceID    string `db:"instance_id"`
	InstanceVNFID string `db:"instance_vnf_id"`
	// Id of the vdu blueprint in the template.
	VDUID     string `db:"vdu_id"`
	AccountID string `db:"account_id"`
	Name      string `db:"name"`
	VimID     string `db:"vim_id"`
	// Ordering key, later replicas have larger values.
	CreatedAt int64 `db:"created_at"`
}

func (InstanceVM) TableName() string { return "instance_vms" }

type InstanceInterface struct {
	ID            string `db:"id,primarykey"`
	InstanceVMID  string `db:"instance_vm_id"`
	InstanceNetID string `db:"instance_net_id"`
	// Position of the interface on the vm.
	Position   int    `db:"position"`
	Name       string `db:"name"`
	Type       string `db:"type"`
	IPAddress  string `db:"ip_address"`
	MACAddress string `db:"mac_address"`
	FloatingIP bool   `db:"floating_ip"`
	// One of "", "enabled" or "disabled".
	PortSecurity string `db:"port_security"`
}

func (InstanceInterface) TableName() string { return "instance_interfaces" }

// A service function instance, one per vm replica of a hop.
type InstanceSFI struct {
	ID           string `db:"id,primarykey"`
	InstanceID   string `db:"instance_id"`
	AccountID    string `db:"account_id"`
	InstanceSFID string `db:"instance_sf_id"`
	InstanceVMID string `db:"instance_vm_id"`
	VimID        string `db:"vim_id"`
}

func (InstanceSFI) TableName() string { return "instance_sfis" }

type InstanceSF struct {
	ID         string `db:"id,primarykey"`
	InstanceID string `db:"instance_id"`
	AccountID  string `db:"account_id"`
	// The rendered service path the hop belongs to. Rsp ids are only
	// unique within one vnffg, the sfp row id identifies the path.
	RspID         string `db:"rsp_id"`
	InstanceSFPID string `db:"instance_sfp_id"`
	VimID         string `db:"vim_id"`
}

func (InstanceSF) TableName() string { return "instance_sfs" }

type InstanceClassification struct {
	ID           string `db:"id,primarykey"`
	InstanceID   string `db:"instance_id"`
	AccountID    string `db:"account_id"`
	RspID         string `db:"rsp_id"`
	InstanceSFPID string `db:"instance_sfp_id"`
	InstanceVMID  string `db:"instance_vm_id"`
	VimID         string `db:"vim_id"`
}

func (InstanceClassification) TableName() string { return "instance_classifications" }

type InstanceSFP struct {
	ID         string `db:"id,primarykey"`
	InstanceID string `db:"instance_id"`
	AccountID  string `db:"account_id"`
	RspID      string `db:"rsp_id"`
	VimID      string `db:"vim_id"`
}

func (InstanceSFP) TableName() string { return "instance_sfps" }

// A wan link interconnecting one instance network over datacenters.
type InstanceWIMNet struct {
	ID            string `db:"id,primarykey"`
	InstanceID    string `db:"instance_id"`
	InstanceNetID string `db:"instance_net_id"`
	WANAccountID  string `db:"wan_account_id"`
	Related       string `db:"related"`
	Created       bool   `db:"created"`
}

func (InstanceWIMNet) TableName() string { return "instance_wim_nets" }

// One create, delete or scale invocation on an instance.
type InstanceAction struct {
	ID          string `db:"id,primarykey"`
	TenantID    string `db:"tenant_id"`
	InstanceID  string `db:"instance_id"`
	Kind        string `db:"kind"`
	Description string `db:"description"`
	TaskCount   int    `db:"task_count"`
	CreatedAt   int64  `db:"created_at"`
}

func (InstanceAction) TableName() string { return "instance_actions" }

// A scheduled backend task of an instance action.
type VIMAction struct {
	InstanceActionID string `db:"instance_action_id,primarykey"`
	TaskIndex        int    `db:"task_index,primarykey"`
	// The vim or wan account executing the task.
	AccountID string `db:"account_id"`
	Verb      string `db:"verb"`
	Item      string `db:"item"`
	ItemID    string `db:"item_id"`
	Status    string `db:"status"`
	// Yaml blob with the task parameters and dependencies.
	Extra     string `db:"extra"`
	CreatedAt int64  `db:"created_at"`
}

func (VIMAction) TableName() string { return "vim_actions" }
