//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/encodeous/trustbgp/core"
	"github.com/encodeous/trustbgp/state"
	"github.com/goccy/go-yaml"
	"github.com/testcontainers/testcontainers-go"
	tcnetwork "github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	ImageRepo   = "trustbgp-debug"
	ImageName   = ImageRepo + ":latest"
	ConfigPath  = "/app/routers.yaml"
	DebugAddr   = "127.0.0.1:9179"
	WaitTimeout = 2 * time.Minute
)

var subnetIdx atomic.Int32

// allocateSubnet hands every test its own /24 so tests can run in parallel
func allocateSubnet() (netip.Prefix, netip.Addr) {
	n := subnetIdx.Add(1)
	prefix := netip.PrefixFrom(netip.AddrFrom4([4]byte{172, 29, byte(n), 0}), 24)
	gw := netip.AddrFrom4([4]byte{172, 29, byte(n), 1})
	return prefix, gw
}

type Harness struct {
	t          *testing.T
	mu         sync.Mutex
	ctx        context.Context
	Network    *testcontainers.DockerNetwork
	Routers    map[state.RouterId]testcontainers.Container
	LogManager *LogManager
	RootDir    string
	Subnet     netip.Prefix
}

func NewHarness(t *testing.T) *Harness {
	ctx := context.Background()
	rootDir, err := findRoot()
	if err != nil {
		t.Fatal(err)
	}
	subnet, gateway := allocateSubnet()
	t.Logf("Allocated subnet: %s, gateway: %s", subnet, gateway)

	newNetwork, err := tcnetwork.New(ctx,
		tcnetwork.WithAttachable(),
		tcnetwork.WithDriver("bridge"),
		tcnetwork.WithIPAM(&network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{
				{
					Subnet:  subnet.String(),
					Gateway: gateway.String(),
				},
			},
		}))
	if err != nil {
		t.Fatal(err)
	}
	h := &Harness{
		t:          t,
		ctx:        ctx,
		Network:    newNetwork,
		Routers:    make(map[state.RouterId]testcontainers.Container),
		LogManager: NewLogManager(),
		RootDir:    rootDir,
		Subnet:     subnet,
	}
	t.Cleanup(h.Cleanup)
	return h
}

// IP returns the address router id gets in the test network
func (h *Harness) IP(id state.RouterId) netip.Addr {
	b := h.Subnet.Addr().As4()
	b[3] = byte(10 + id)
	return netip.AddrFrom4(b)
}

// WriteConfig writes the boot document into a fresh directory for this test
func (h *Harness) WriteConfig(cfg *state.CentralCfg) string {
	dir := filepath.Join(h.RootDir, "e2e", "runs", h.t.Name())
	_ = os.RemoveAll(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		h.t.Fatal(err)
	}
	path := filepath.Join(dir, "routers.yaml")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		h.t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		h.t.Fatal(err)
	}
	return path
}

func (h *Harness) StartRouters(cfgPath string, ids ...state.RouterId) {
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Go(func() {
			h.StartRouter(id, cfgPath)
		})
	}
	wg.Wait()
}

func (h *Harness) StartRouter(id state.RouterId, cfgPath string) testcontainers.Container {
	ip := h.IP(id)
	h.t.Logf("Starting router %s at %s", id, ip)
	req := testcontainers.ContainerRequest{
		Image:    ImageName,
		Networks: []string{h.Network.Name},
		NetworkAliases: map[string][]string{
			h.Network.Name: {fmt.Sprintf("r%d", int(id))},
		},
		Files: []testcontainers.ContainerFile{
			{
				HostFilePath:      cfgPath,
				ContainerFilePath: ConfigPath,
				FileMode:          0644,
			},
		},
		Cmd: []string{"run", "-c", ConfigPath, "-v", "--debug-addr", DebugAddr},
		Env: map[string]string{
			"ROUTER_ID": fmt.Sprint(int(id)),
		},
		WaitingFor: wait.ForLog("router initialized").WithStartupTimeout(30 * time.Second),
		EndpointSettingsModifier: func(m map[string]*network.EndpointSettings) {
			if s, ok := m[h.Network.Name]; ok {
				s.IPAMConfig = &network.EndpointIPAMConfig{
					IPv4Address: ip.String(),
				}
			}
		},
		LogConsumerCfg: &testcontainers.LogConsumerConfig{
			Consumers: []testcontainers.LogConsumer{
				&RouterLogConsumer{Router: id.String(), Manager: h.LogManager},
			},
		},
		Name: fmt.Sprintf("%s-%s", h.t.Name(), id),
	}
	cont, err := testcontainers.GenericContainer(h.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		h.t.Fatalf("failed to start container %s: %v", id, err)
	}
	h.mu.Lock()
	h.Routers[id] = cont
	h.mu.Unlock()
	return cont
}

// StopRouter sends SIGTERM and waits for the router to exit
func (h *Harness) StopRouter(id state.RouterId) {
	c := h.router(id)
	timeout := 10 * time.Second
	if err := c.Stop(h.ctx, &timeout); err != nil {
		h.t.Fatalf("failed to stop %s: %v", id, err)
	}
}

func (h *Harness) router(id state.RouterId) testcontainers.Container {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.Routers[id]
	if !ok {
		h.t.Fatalf("router %s not found", id)
	}
	return c
}

func (h *Harness) WaitForLog(id state.RouterId, pattern string) {
	ch, cancel := h.LogManager.Wait(id.String(), pattern)
	defer cancel()
	select {
	case <-ch:
	case <-time.After(WaitTimeout):
		h.t.Fatalf("timed out waiting for %s to log %q", id, pattern)
	}
}

func (h *Harness) Exec(id state.RouterId, cmd []string) (string, string, error) {
	code, r, err := h.router(id).Exec(h.ctx, cmd)
	if err != nil {
		return "", "", err
	}
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	if _, err := stdcopy.StdCopy(stdout, stderr, r); err != nil {
		return "", "", fmt.Errorf("failed to copy output: %w", err)
	}
	if code != 0 {
		return stdout.String(), stderr.String(), fmt.Errorf("%v exited with %d: %s", cmd, code, stderr.String())
	}
	return stdout.String(), stderr.String(), nil
}

// Status asks the router for its debug status through the inspect command
func (h *Harness) Status(id state.RouterId) (core.Status, error) {
	var st core.Status
	out, _, err := h.Exec(id, []string{"/app/trustbgp", "inspect", DebugAddr})
	if err != nil {
		return st, err
	}
	err = yaml.Unmarshal([]byte(out), &st)
	return st, err
}

// WaitForRoute polls the router until match accepts its route to network,
// or until the route is gone when match is nil.
func (h *Harness) WaitForRoute(id state.RouterId, network string, match func(core.RouteInfo) bool) {
	deadline := time.Now().Add(WaitTimeout)
	for time.Now().Before(deadline) {
		st, err := h.Status(id)
		if err == nil {
			var found *core.RouteInfo
			for i := range st.Routes {
				if st.Routes[i].Network == network {
					found = &st.Routes[i]
				}
			}
			if match == nil && found == nil {
				return
			}
			if match != nil && found != nil && match(*found) {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for route %s on %s", network, id)
}

func (h *Harness) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.Routers {
		if err := c.Terminate(h.ctx); err != nil {
			h.t.Logf("failed to terminate container %s: %v", id, err)
		}
	}
	if err := h.Network.Remove(context.Background()); err != nil {
		h.t.Logf("failed to remove network: %v", err)
	}
}

// SimpleRouter builds a router that trusts every neighbour equally
func (h *Harness) SimpleRouter(id state.RouterId, trust float64, neighbors ...state.RouterId) state.RouterCfg {
	return state.RouterCfg{
		Id:        id,
		Ip:        h.IP(id),
		Neighbors: neighbors,
		Trust:     state.TrustCfg{DirectTrust: trust},
	}
}

// Originate adds a locally originated network to r
func Originate(r *state.RouterCfg, network string) {
	r.RoutingTable = append(r.RoutingTable, state.StaticRoute{
		Network: netip.MustParsePrefix(network),
		NextHop: r.Id,
	})
}

// FastTimers keeps failure detection within a few seconds
func FastTimers() state.BgpDefaults {
	return state.BgpDefaults{
		HoldTimer:         3,
		KeepaliveInterval: 1,
		ConnectDelay:      1,
		ConnectRetry:      true,
	}
}
