// Package netcni configures per-VM networking out of band from a
// backend's own config translation, via a CNI bridge + veth chain. It
// is a general-purpose CNI manager any hypervisor backend can call
// from its spawn path.
package netcni

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/containernetworking/cni/libcni"
	"github.com/containernetworking/cni/pkg/types"
	types100 "github.com/containernetworking/cni/pkg/types/100"
)

const (
	DefaultBridgeName = "vmwbr0"
	DefaultSubnet     = "10.172.0.0/24"
	DefaultGateway    = "10.172.0.1"
	CNINetworkName    = "vmworker-net"
	CNIVersion        = "1.0.0"
	CNIIfName         = "eth0"
	CNICacheDir       = "/var/lib/cni/vmworker"
	NetNSRunDir       = "/var/run/netns"
	NetNSPrefix       = "vmworker-"
)

var requiredCNIPlugins = []string{"bridge", "host-local", "tc-redirect-tap"}

// Interface describes the network attachment point CNI handed back for
// one VM: a TAP device name the backend's native config can reference,
// plus the addressing CNI assigned.
type Interface struct {
	TAPDevice     string
	GuestIP       string
	GatewayIP     string
	MACAddress    string
	NamespacePath string
}

// Manager owns CNI network setup/teardown for every VM on this host.
type Manager struct {
	cniBinDir    string
	cniConfigDir string
	cniConfig    *libcni.CNIConfig
	confList     *libcni.NetworkConfigList
	logger       *slog.Logger

	mu         sync.Mutex
	namespaces map[string]string
}

// New builds a Manager and renders its CNI conflist in memory. It does
// not touch the filesystem beyond what libcni itself requires.
func New(cniBinDir, cniConfigDir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	confListBytes, err := generateConfList()
	if err != nil {
		return nil, fmt.Errorf("netcni: generating conflist: %w", err)
	}
	confList, err := libcni.ConfListFromBytes(confListBytes)
	if err != nil {
		return nil, fmt.Errorf("netcni: parsing conflist: %w", err)
	}

	return &Manager{
		cniBinDir:    cniBinDir,
		cniConfigDir: cniConfigDir,
		cniConfig:    libcni.NewCNIConfig([]string{cniBinDir}, nil),
		confList:     confList,
		logger:       logger,
		namespaces:   make(map[string]string),
	}, nil
}

// Setup creates a network namespace for vmID, runs the CNI ADD chain
// inside it, and returns the resulting interface. network_allowed_domains
// is threaded through as a CNI runtime capability argument for an
// egress-filter plugin slot; no such plugin ships here, so its absence
// from the plugin chain is a silent no-op, matching the "never fails on
// a missing optional capability" texture the rest of the backend has.
func (m *Manager) Setup(ctx context.Context, vmID string, allowedDomains []string) (*Interface, error) {
	nsPath, err := createNetNS(vmID)
	if err != nil {
		return nil, fmt.Errorf("netcni: creating netns for %s: %w", vmID, err)
	}

	runtimeConf := &libcni.RuntimeConf{
		ContainerID: vmID,
		NetNS:       nsPath,
		IfName:      CNIIfName,
		CacheDir:    CNICacheDir,
		Args: [][2]string{
			{"IgnoreUnknown", "1"},
		},
	}
	if len(allowedDomains) > 0 {
		runtimeConf.CapabilityArgs = map[string]any{
			"networkAllowedDomains": allowedDomains,
		}
	}

	result, err := m.cniConfig.AddNetworkList(ctx, m.confList, runtimeConf)
	if err != nil {
		_ = deleteNetNS(vmID)
		return nil, fmt.Errorf("netcni: CNI ADD failed for %s: %w", vmID, err)
	}

	iface, err := parseResult(result, nsPath)
	if err != nil {
		_ = m.cniConfig.DelNetworkList(ctx, m.confList, runtimeConf)
		_ = deleteNetNS(vmID)
		return nil, fmt.Errorf("netcni: parsing CNI result for %s: %w", vmID, err)
	}

	m.mu.Lock()
	m.namespaces[vmID] = nsPath
	m.mu.Unlock()

	return iface, nil
}

// Teardown runs the CNI DEL chain and removes the namespace. Idempotent:
// tearing down a vmID that was never set up, or was already torn down,
// is not an error.
func (m *Manager) Teardown(ctx context.Context, vmID string) error {
	m.mu.Lock()
	nsPath, ok := m.namespaces[vmID]
	delete(m.namespaces, vmID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	runtimeConf := &libcni.RuntimeConf{
		ContainerID: vmID,
		NetNS:       nsPath,
		IfName:      CNIIfName,
		CacheDir:    CNICacheDir,
	}
	if err := m.cniConfig.DelNetworkList(ctx, m.confList, runtimeConf); err != nil {
		m.logger.Warn("netcni: CNI DEL failed", "vmId", vmID, "error", err)
	}
	if err := deleteNetNS(vmID); err != nil {
		m.logger.Warn("netcni: netns removal failed", "vmId", vmID, "error", err)
	}
	return nil
}

// Verify checks that every required CNI plugin binary is present in
// cniBinDir.
func (m *Manager) Verify() error {
	for _, name := range requiredCNIPlugins {
		path := filepath.Join(m.cniBinDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("netcni: required plugin %q not found in %s: %w", name, m.cniBinDir, err)
		}
	}
	return nil
}

func generateConfList() ([]byte, error) {
	conf := map[string]any{
		"cniVersion": CNIVersion,
		"name":       CNINetworkName,
		"plugins": []map[string]any{
			{
				"type":      "bridge",
				"bridge":    DefaultBridgeName,
				"isGateway": true,
				"ipMasq":    true,
				"ipam": map[string]any{
					"type":    "host-local",
					"subnet":  DefaultSubnet,
					"routes":  []map[string]string{{"dst": "0.0.0.0/0"}},
					"gateway": DefaultGateway,
				},
			},
			{
				"type": "tc-redirect-tap",
			},
		},
	}
	return json.Marshal(conf)
}

func parseResult(result types.Result, nsPath string) (*Interface, error) {
	res, err := types100.NewResultFromResult(result)
	if err != nil {
		return nil, err
	}

	iface := &Interface{NamespacePath: nsPath}
	var tapName string
	for _, i := range res.Interfaces {
		if i.Sandbox == "" {
			continue
		}
		if i.Name != CNIIfName {
			tapName = i.Name
			iface.MACAddress = i.Mac
			break
		}
	}
	if tapName == "" {
		for _, i := range res.Interfaces {
			if i.Sandbox != "" {
				tapName = i.Name
				iface.MACAddress = i.Mac
				break
			}
		}
	}
	iface.TAPDevice = tapName

	for _, ipCfg := range res.IPs {
		iface.GuestIP = ipCfg.Address.IP.String()
		if ipCfg.Gateway != nil {
			iface.GatewayIP = ipCfg.Gateway.String()
		}
	}

	return iface, nil
}

func createNetNS(vmID string) (string, error) {
	name := NetNSPrefix + vmID
	if err := exec.Command("ip", "netns", "add", name).Run(); err != nil {
		return "", fmt.Errorf("ip netns add %s: %w", name, err)
	}
	return filepath.Join(NetNSRunDir, name), nil
}

func deleteNetNS(vmID string) error {
	name := NetNSPrefix + vmID
	return exec.Command("ip", "netns", "delete", name).Run()
}
