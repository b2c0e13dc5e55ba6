package deploy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vrlab-network/vrlab/internal/testutil"
	"github.com/vrlab-network/vrlab/pkg/controlplane"
	"github.com/vrlab-network/vrlab/pkg/ifmap"
	"github.com/vrlab-network/vrlab/pkg/topology"
)

// Platform used throughout: f0/0→0, f0/1→1, f1/0→16.
func testResolver(t *testing.T) *ifmap.Resolver {
	t.Helper()
	r, err := ifmap.NewResolver(&ifmap.PlatformTable{
		Platform:  "c3725",
		Onboard:   []string{"f0/0", "f0/1"},
		BlockSize: 16,
		Slots:     map[int][]string{1: {"f1/0"}},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func testOptions() Options {
	return Options{
		Retry:       RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond},
		SettleDelay: time.Millisecond,
	}
}

// threeNodeTopo: A:f0/0—B:f0/0 and B:f1/0—C:f0/0.
func threeNodeTopo() *topology.Topology {
	return &topology.Topology{
		Lab: "pod1",
		Nodes: []*topology.Node{
			{Name: "A", Platform: "c3725"},
			{Name: "B", Platform: "c3725"},
			{Name: "C", Platform: "c3725"},
		},
		Connections: []*topology.Connection{
			{Name: "a-b", A: topology.Endpoint{Node: "A", Interface: "f0/0"}, Z: topology.Endpoint{Node: "B", Interface: "f0/0"}},
			{Name: "b-c", A: topology.Endpoint{Node: "B", Interface: "f1/0"}, Z: topology.Endpoint{Node: "C", Interface: "f0/0"}},
		},
	}
}

// twoNodeTopo: A:f0/0—B:f0/0.
func twoNodeTopo() *topology.Topology {
	return &topology.Topology{
		Lab: "pod1",
		Nodes: []*topology.Node{
			{Name: "A", Platform: "c3725"},
			{Name: "B", Platform: "c3725"},
		},
		Connections: []*topology.Connection{
			{Name: "a-b", A: topology.Endpoint{Node: "A", Interface: "f0/0"}, Z: topology.Endpoint{Node: "B", Interface: "f0/0"}},
		},
	}
}

func connByName(t *testing.T, r *Report, name string) *ConnectionResult {
	t.Helper()
	for _, c := range r.Connections {
		if c.Connection == name {
			return c
		}
	}
	t.Fatalf("connection %s not in report", name)
	return nil
}

func TestDeployEndToEnd(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	engine := New(fake, testResolver(t), testOptions())

	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if report.Failed {
		t.Fatalf("report.Failed = true: %+v", report.FailedConnections())
	}
	for _, name := range []string{"a-b", "b-c"} {
		if c := connByName(t, report, name); c.Status != StatusEstablished {
			t.Errorf("%s status = %s (%s), want established", name, c.Status, c.Detail)
		}
	}

	// Node B carries both links: index 0 on a-b's network, index 16 on b-c's.
	bID, ok := fake.NodeIDByName("B")
	if !ok {
		t.Fatal("node B not created")
	}
	abNet, _ := fake.NetworkIDByName("a-b")
	bcNet, _ := fake.NetworkIDByName("b-c")
	if got, _ := fake.Binding(bID, 0); got != abNet {
		t.Errorf("B index 0 bound to %d, want %d", got, abNet)
	}
	if got, _ := fake.Binding(bID, 16); got != bcNet {
		t.Errorf("B index 16 bound to %d, want %d", got, bcNet)
	}

	if fake.BindCalls != 4 {
		t.Errorf("BindCalls = %d, want 4", fake.BindCalls)
	}
	if report.RunID == "" {
		t.Error("report has no run id")
	}
}

func TestDeployIdempotent(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	engine := New(fake, testResolver(t), testOptions())

	if _, err := engine.Deploy(context.Background(), threeNodeTopo()); err != nil {
		t.Fatalf("first Deploy: %v", err)
	}
	bindsAfterFirst := fake.BindCalls

	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("second Deploy: %v", err)
	}

	if fake.BindCalls != bindsAfterFirst {
		t.Errorf("second run issued %d binds, want 0", fake.BindCalls-bindsAfterFirst)
	}
	for _, c := range report.Connections {
		if c.Status != StatusAlreadySatisfied {
			t.Errorf("%s status = %s, want already-satisfied", c.Connection, c.Status)
		}
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	aID := fake.PreloadNode("A", "c3725", 17)
	fake.PreloadNode("B", "c3725", 17)
	fake.PreloadNode("C", "c3725", 17)

	// A:f0/0 (index 0) fails twice, then succeeds.
	key := fmt.Sprintf("%d/0", aID)
	fake.BindErrs[key] = []error{testutil.Transient("bind blip"), testutil.Transient("bind blip")}

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusEstablished {
		t.Fatalf("a-b status = %s (%s), want established", c.Status, c.Detail)
	}
	if c.Attempts != 3 {
		t.Errorf("a-b attempts = %d, want 3", c.Attempts)
	}
}

func TestRetryExhausted(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	aID := fake.PreloadNode("A", "c3725", 17)
	fake.PreloadNode("B", "c3725", 17)
	fake.PreloadNode("C", "c3725", 17)

	key := fmt.Sprintf("%d/0", aID)
	fake.BindErrs[key] = []error{
		testutil.Transient("down"), testutil.Transient("down"), testutil.Transient("down"),
	}

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusTransientFailure {
		t.Errorf("a-b status = %s, want transient-failure", c.Status)
	}
	if c.Attempts != 3 {
		t.Errorf("a-b attempts = %d, want 3", c.Attempts)
	}
	// The unrelated connection still deploys.
	if c := connByName(t, report, "b-c"); c.Status != StatusEstablished {
		t.Errorf("b-c status = %s, want established", c.Status)
	}
	if !report.Failed {
		t.Error("report.Failed should be true")
	}
}

func TestVerificationMismatchNeverEstablished(t *testing.T) {
	fake := testutil.NewFakeControlPlane()

	// The control plane accepts the bind but observation reports a
	// different network for B index 0.
	fake.ObserveHook = func(node controlplane.NodeID, snap controlplane.InterfaceSnapshot) {
		bID, ok := fake.NodeIDByName("B")
		if !ok || node != bID {
			return
		}
		if st, ok := snap[0]; ok && st.Bound {
			st.Network = 999
			snap[0] = st
		}
	}

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusVerificationMismatch {
		t.Fatalf("a-b status = %s, want verification-mismatch", c.Status)
	}
	if !strings.Contains(c.Detail, "expected network") || !strings.Contains(c.Detail, "999") {
		t.Errorf("mismatch detail %q lacks expected-vs-observed values", c.Detail)
	}
}

func TestMappingErrorScopedToConnection(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	topo := threeNodeTopo()
	topo.Connections[0].A.Interface = "f9/0" // no table entry

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), topo)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if c := connByName(t, report, "a-b"); c.Status != StatusMappingError {
		t.Errorf("a-b status = %s, want mapping-error", c.Status)
	}
	if c := connByName(t, report, "b-c"); c.Status != StatusEstablished {
		t.Errorf("b-c status = %s, want established", c.Status)
	}
}

func TestLinkConflict(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	aID := fake.PreloadNode("A", "c3725", 17)
	fake.PreloadNode("B", "c3725", 17)
	fake.PreloadNode("C", "c3725", 17)
	stray := fake.PreloadNetwork("stray", controlplane.KindP2P)
	fake.PreloadBinding(aID, 0, stray)

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusLinkConflict {
		t.Fatalf("a-b status = %s, want link-conflict", c.Status)
	}
	if !strings.Contains(c.Detail, "already bound") {
		t.Errorf("conflict detail %q lacks existing binding", c.Detail)
	}
	// The pre-existing binding is untouched.
	if got, _ := fake.Binding(aID, 0); got != stray {
		t.Errorf("A index 0 rebound to %d; conflicts must not be auto-resolved", got)
	}
}

func TestPlatformMismatchFatalPerNode(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	fake.PreloadNode("A", "c9999", 17) // wrong platform

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if c := connByName(t, report, "a-b"); c.Status != StatusLinkConflict {
		t.Errorf("a-b status = %s, want link-conflict (platform mismatch)", c.Status)
	}
	// b-c does not touch A and must still deploy.
	if c := connByName(t, report, "b-c"); c.Status != StatusEstablished {
		t.Errorf("b-c status = %s, want established", c.Status)
	}

	var nodeErr string
	for _, n := range report.Nodes {
		if n.Name == "A" {
			nodeErr = n.Error
		}
	}
	if !strings.Contains(nodeErr, "platform") {
		t.Errorf("node A error %q should name the platform mismatch", nodeErr)
	}
}

func TestSharedNetworkCreatedOnce(t *testing.T) {
	fake := testutil.NewFakeControlPlane()

	topo := &topology.Topology{
		Lab: "pod1",
		Nodes: []*topology.Node{
			{Name: "A", Platform: "c3725"},
			{Name: "B", Platform: "c3725"},
			{Name: "C", Platform: "c3725"},
			{Name: "D", Platform: "c3725"},
		},
		Management: &topology.ManagementSegment{
			Network: "mgmt",
			Attachments: []topology.Endpoint{
				{Node: "A", Interface: "f0/1"},
				{Node: "B", Interface: "f0/1"},
				{Node: "C", Interface: "f0/1"},
				{Node: "D", Interface: "f0/1"},
			},
		},
	}

	opts := testOptions()
	opts.LinkWorkers = 4
	engine := New(fake, testResolver(t), opts)

	report, err := engine.Deploy(context.Background(), topo)
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if got := fake.CreateNetworkCalls["mgmt"]; got != 1 {
		t.Errorf("create_network(mgmt) reached the control plane %d times, want 1", got)
	}
	for _, c := range report.Connections {
		if c.Status != StatusEstablished {
			t.Errorf("%s status = %s (%s), want established", c.Connection, c.Status, c.Detail)
		}
	}

	mgmtID, _ := fake.NetworkIDByName("mgmt")
	for _, name := range []string{"A", "B", "C", "D"} {
		id, _ := fake.NodeIDByName(name)
		if got, _ := fake.Binding(id, 1); got != mgmtID {
			t.Errorf("%s index 1 bound to %d, want mgmt %d", name, got, mgmtID)
		}
	}
}

func TestCancelledRunStillReports(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	engine := New(fake, testResolver(t), testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := engine.Deploy(ctx, threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if len(report.Connections) != 2 {
		t.Fatalf("len(Connections) = %d, want 2", len(report.Connections))
	}
	for _, c := range report.Connections {
		if c.Status != StatusTransientFailure {
			t.Errorf("%s status = %s, want transient-failure", c.Connection, c.Status)
		}
		if c.Status == StatusEstablished {
			t.Errorf("%s optimistically established on a cancelled run", c.Connection)
		}
	}
	if fake.BindCalls != 0 {
		t.Errorf("cancelled run issued %d binds, want 0", fake.BindCalls)
	}
}

func TestCrossCheckAnnotatesDisagreement(t *testing.T) {
	fake := testutil.NewFakeControlPlane()

	// API lies about B index 0; the host channel reports the truth.
	fake.ObserveHook = func(node controlplane.NodeID, snap controlplane.InterfaceSnapshot) {
		bID, ok := fake.NodeIDByName("B")
		if !ok || node != bID {
			return
		}
		if st, ok := snap[0]; ok && st.Bound {
			st.Network = 999
			snap[0] = st
		}
	}

	host := &testutil.FakeHostChecker{Snaps: map[controlplane.NodeID]controlplane.InterfaceSnapshot{}}
	engine := New(fake, testResolver(t), testOptions()).WithHostChecker(host)

	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusVerificationMismatch {
		t.Fatalf("a-b status = %s, want verification-mismatch", c.Status)
	}
	if host.Calls == 0 {
		t.Fatal("host cross-check never ran for a mismatch")
	}

	found := false
	for _, a := range c.Annotations {
		if strings.Contains(a, "source disagreement") {
			found = true
		}
	}
	if !found {
		t.Errorf("annotations %v lack a source disagreement", c.Annotations)
	}
	// The annotation never rewrites the status.
	if c.Status != StatusVerificationMismatch {
		t.Error("cross-check must not change connection status")
	}
}

func TestVerifyModeDoesNotMutate(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	engine := New(fake, testResolver(t), testOptions())

	if _, err := engine.Deploy(context.Background(), threeNodeTopo()); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	binds := fake.BindCalls
	creates := fake.CreateNodeCalls

	report, err := engine.Verify(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if fake.BindCalls != binds || fake.CreateNodeCalls != creates {
		t.Error("Verify mutated the lab")
	}
	for _, c := range report.Connections {
		if c.Status != StatusAlreadySatisfied {
			t.Errorf("%s status = %s, want already-satisfied", c.Connection, c.Status)
		}
	}
}

func TestVerifyModeReportsMissingNetwork(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	fake.PreloadNode("A", "c3725", 17)
	fake.PreloadNode("B", "c3725", 17)
	fake.PreloadNode("C", "c3725", 17)

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Verify(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	for _, c := range report.Connections {
		if c.Status != StatusVerificationMismatch {
			t.Errorf("%s status = %s, want verification-mismatch", c.Connection, c.Status)
		}
	}
}

func TestInterfaceStatusTable(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	engine := New(fake, testResolver(t), testOptions())

	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	// 2 connections × 2 endpoints.
	if len(report.Interfaces) != 4 {
		t.Fatalf("len(Interfaces) = %d, want 4", len(report.Interfaces))
	}

	// Sorted by node then index; B contributes indices 0 and 16.
	var bRows []InterfaceStatus
	for _, row := range report.Interfaces {
		if row.Node == "B" {
			bRows = append(bRows, row)
		}
	}
	if len(bRows) != 2 || bRows[0].Index != 0 || bRows[1].Index != 16 {
		t.Fatalf("B rows = %+v, want indices 0 and 16", bRows)
	}
	for _, row := range bRows {
		if row.Status != StatusEstablished {
			t.Errorf("B index %d status = %s, want established", row.Index, row.Status)
		}
		if row.Observed == nil || *row.Observed != row.Expected {
			t.Errorf("B index %d observed = %v, expected %d", row.Index, row.Observed, row.Expected)
		}
	}
}

func TestBindRejectedIndexReportsMappingError(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	aID := fake.PreloadNode("A", "c3725", 17)
	fake.PreloadNode("B", "c3725", 17)
	fake.PreloadNode("C", "c3725", 17)

	// The control plane rejects an index the resolver produced: the table
	// itself is wrong for the platform.
	key := fmt.Sprintf("%d/0", aID)
	fake.BindErrs[key] = []error{
		&controlplane.InvalidIndexError{Node: aID, Index: 0, Code: 60032, Message: "cannot link node"},
	}

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusMappingError {
		t.Fatalf("a-b status = %s, want mapping-error", c.Status)
	}
	for _, want := range []string{"c3725", "f0/0", "rejected index 0"} {
		if !strings.Contains(c.Detail, want) {
			t.Errorf("detail %q lacks %q", c.Detail, want)
		}
	}
	if c := connByName(t, report, "b-c"); c.Status != StatusEstablished {
		t.Errorf("b-c status = %s, want established", c.Status)
	}
}

func TestBindBoundToExpectedNetworkIsIdempotent(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	aID := fake.PreloadNode("A", "c3725", 17)
	fake.PreloadNode("B", "c3725", 17)
	netID := fake.PreloadNetwork("a-b", controlplane.KindP2P)

	// A concurrent run won the bind between our pre-snapshot and our bind
	// request: the control plane reports the interface already bound to the
	// very network we wanted.
	key := fmt.Sprintf("%d/0", aID)
	fake.BindErrs[key] = []error{
		&controlplane.BoundError{Node: aID, Index: 0, Network: netID},
	}

	// The pre-snapshot saw A unbound; by verification time the binding is
	// visible.
	var mu sync.Mutex
	seen := 0
	fake.ObserveHook = func(node controlplane.NodeID, snap controlplane.InterfaceSnapshot) {
		if node != aID {
			return
		}
		mu.Lock()
		seen++
		settled := seen > 1
		mu.Unlock()
		if settled {
			snap[0] = controlplane.InterfaceState{Network: netID, Bound: true}
		}
	}

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), twoNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusEstablished {
		t.Fatalf("a-b status = %s (%s), want established", c.Status, c.Detail)
	}
	if fake.BindCalls != 2 {
		t.Errorf("BindCalls = %d, want 2", fake.BindCalls)
	}
}

func TestBindBoundToOtherNetworkIsConflict(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	aID := fake.PreloadNode("A", "c3725", 17)
	fake.PreloadNode("B", "c3725", 17)
	stray := fake.PreloadNetwork("stray", controlplane.KindP2P)

	// The pre-snapshot saw A unbound, but the bind itself is rejected: the
	// interface got bound to some other network in between.
	key := fmt.Sprintf("%d/0", aID)
	fake.BindErrs[key] = []error{
		&controlplane.BoundError{Node: aID, Index: 0, Network: stray},
	}

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Deploy(context.Background(), twoNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusLinkConflict {
		t.Fatalf("a-b status = %s, want link-conflict", c.Status)
	}
	if !strings.Contains(c.Detail, fmt.Sprintf("already bound to network %d", stray)) {
		t.Errorf("conflict detail %q lacks the current binding", c.Detail)
	}
}

func TestVerifyModeTransientLookupIsNotMismatch(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	fake.PreloadNode("A", "c3725", 17)
	bID := fake.PreloadNode("B", "c3725", 17)
	cID := fake.PreloadNode("C", "c3725", 17)
	bcNet := fake.PreloadNetwork("b-c", controlplane.KindP2P)
	fake.PreloadBinding(bID, 16, bcNet)
	fake.PreloadBinding(cID, 0, bcNet)

	// The a-b lookup keeps failing transiently; that says nothing about
	// whether the topology matches.
	fake.FindNetworkErrs["a-b"] = []error{
		testutil.Transient("lookup blip"), testutil.Transient("lookup blip"), testutil.Transient("lookup blip"),
	}

	engine := New(fake, testResolver(t), testOptions())
	report, err := engine.Verify(context.Background(), threeNodeTopo())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if c := connByName(t, report, "a-b"); c.Status != StatusTransientFailure {
		t.Errorf("a-b status = %s, want transient-failure", c.Status)
	}
	if c := connByName(t, report, "b-c"); c.Status != StatusAlreadySatisfied {
		t.Errorf("b-c status = %s (%s), want already-satisfied", c.Status, c.Detail)
	}
}

func TestCrossCheckSkipsUnverifiedConnections(t *testing.T) {
	fake := testutil.NewFakeControlPlane()
	aID := fake.PreloadNode("A", "c3725", 17)
	fake.PreloadNode("B", "c3725", 17)
	stray := fake.PreloadNetwork("stray", controlplane.KindP2P)
	fake.PreloadBinding(aID, 0, stray)

	// The host agrees with reality; the conflicted connection simply never
	// reached verification, so there is no API snapshot to compare against.
	host := &testutil.FakeHostChecker{Snaps: map[controlplane.NodeID]controlplane.InterfaceSnapshot{
		aID: {0: controlplane.InterfaceState{Network: stray, Bound: true}},
	}}

	opts := testOptions()
	opts.CrossCheck = true
	engine := New(fake, testResolver(t), opts).WithHostChecker(host)

	report, err := engine.Deploy(context.Background(), twoNodeTopo())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	c := connByName(t, report, "a-b")
	if c.Status != StatusLinkConflict {
		t.Fatalf("a-b status = %s, want link-conflict", c.Status)
	}

	skipped := false
	for _, a := range c.Annotations {
		if strings.Contains(a, "source disagreement") {
			t.Errorf("spurious disagreement annotation: %q", a)
		}
		if strings.Contains(a, "cross-check skipped for A") {
			skipped = true
		}
	}
	if !skipped {
		t.Errorf("annotations %v lack a skip note for the unverified node", c.Annotations)
	}
}
