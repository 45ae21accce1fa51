package service

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type buildTestEnv struct {
	db     *gorm.DB
	repos  *repository.Repositories
	svc    *BuildService
	events *RecordingEventBus
	policy *StaticPolicy
}

func setupBuildTest(t *testing.T) *buildTestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	events := &RecordingEventBus{}
	policy := DefaultStaticPolicy()
	logger := zap.NewNop()
	svc := NewBuildService(db, repos, policy, events, NewLogNotifier(logger), NewSyncTaskRunner(logger), logger)
	return &buildTestEnv{db: db, repos: repos, svc: svc, events: events, policy: policy}
}

// seedAssembly 装配件 + 两个散件BOM行
func seedAssembly(t *testing.T, env *buildTestEnv) (*entity.Part, *entity.Part, *entity.Part) {
	t.Helper()
	asm := testutil.SeedPart(t, env.db, "ASM-001", func(p *entity.Part) { p.Assembly = true })
	c1 := testutil.SeedPart(t, env.db, "CMP-001")
	c2 := testutil.SeedPart(t, env.db, "CMP-002")
	testutil.SeedBOMItem(t, env.db, asm.ID, c1.ID, 2)
	testutil.SeedBOMItem(t, env.db, asm.ID, c2.ID, 3)
	return asm, c1, c2
}

func TestCreateBuildGeneratesLines(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)

	order, err := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 10}, "user-1")
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	if order.Reference != "BO-0001" {
		t.Fatalf("expected reference BO-0001, got %s", order.Reference)
	}
	if order.Status != entity.BuildStatusPending {
		t.Fatalf("expected PENDING, got %s", order.Status)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("expected 2 build lines, got %d", len(order.Lines))
	}
	quantities := map[float64]bool{}
	for _, line := range order.Lines {
		quantities[line.Quantity] = true
	}
	if !quantities[20] || !quantities[30] {
		t.Fatalf("expected line quantities 20 and 30, got %v", quantities)
	}

	// 取号递增
	second, err := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	if err != nil {
		t.Fatalf("create second build: %v", err)
	}
	if second.Reference != "BO-0002" {
		t.Fatalf("expected BO-0002, got %s", second.Reference)
	}
}

func TestCreateBuildRejectsNonAssembly(t *testing.T) {
	env := setupBuildTest(t)
	part := testutil.SeedPart(t, env.db, "CMP-100")
	if _, err := env.svc.Create(CreateBuildRequest{PartID: part.ID, Quantity: 1}, "user-1"); err == nil {
		t.Fatal("expected error for non-assembly part")
	}
}

func TestCreateBuildPolicyGates(t *testing.T) {
	env := setupBuildTest(t)
	asm := testutil.SeedPart(t, env.db, "ASM-010", func(p *entity.Part) {
		p.Assembly = true
		p.Active = false
	})
	if _, err := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1"); err == nil {
		t.Fatal("expected error for inactive part with active policy on")
	}

	env.policy.Responsible = true
	active := testutil.SeedPart(t, env.db, "ASM-011", func(p *entity.Part) { p.Assembly = true })
	if _, err := env.svc.Create(CreateBuildRequest{PartID: active.ID, Quantity: 1}, "user-1"); err == nil {
		t.Fatal("expected error when responsible is required but missing")
	}
	if _, err := env.svc.Create(CreateBuildRequest{PartID: active.ID, Quantity: 1, ResponsibleID: "user-2"}, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateBuildChildPath(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)

	parent, err := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 5}, "user-1")
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 2, ParentID: parent.ID}, "user-1")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.Path != parent.Path+"/"+child.ID {
		t.Fatalf("expected child path %s, got %s", parent.Path+"/"+child.ID, child.Path)
	}
}

func TestIssueHoldCancelFlow(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")

	if err := env.svc.Issue(order.ID, "user-1"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, _ := env.svc.GetByID(order.ID)
	if got.Status != entity.BuildStatusProduction {
		t.Fatalf("expected PRODUCTION, got %s", got.Status)
	}
	if got.IssuedByID != "user-1" {
		t.Fatalf("expected issued_by user-1, got %s", got.IssuedByID)
	}

	// 重复下达被拒
	if err := env.svc.Issue(order.ID, "user-1"); err == nil {
		t.Fatal("expected error issuing a PRODUCTION order")
	}

	if err := env.svc.Hold(order.ID, "user-1"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	got, _ = env.svc.GetByID(order.ID)
	if got.Status != entity.BuildStatusOnHold {
		t.Fatalf("expected ON_HOLD, got %s", got.Status)
	}

	if err := env.svc.Cancel(order.ID, CancelBuildRequest{}, "user-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ = env.svc.GetByID(order.ID)
	if got.Status != entity.BuildStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}

	// 终态不可再转移
	if err := env.svc.Issue(order.ID, "user-1"); err == nil {
		t.Fatal("expected error issuing a cancelled order")
	}

	names := map[string]bool{}
	for _, e := range env.events.Events {
		names[e.Name] = true
	}
	if !names[EventBuildIssued] || !names[EventBuildHold] || !names[EventBuildCancelled] {
		t.Fatalf("missing lifecycle events: %v", names)
	}
}

func TestAllocationMergeAndConservation(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 10}, "user-1")
	stock := testutil.SeedStockItem(t, env.db, c1.ID, 10)

	var line *entity.BuildLine
	for i := range order.Lines {
		if order.Lines[i].BomItem.SubPartID == c1.ID {
			line = &order.Lines[i]
		}
	}

	// 两次分配合并为一条记录
	for i := 0; i < 2; i++ {
		if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
			{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 3},
		}, "user-1"); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}
	var items []entity.BuildItem
	env.db.Where("build_line_id = ?", line.ID).Find(&items)
	if len(items) != 1 || items[0].Quantity != 6 {
		t.Fatalf("expected merged allocation of 6, got %+v", items)
	}

	// 超过库存数量被拒（6 + 5 > 10）
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 5},
	}, "user-1"); err == nil {
		t.Fatal("expected conservation violation")
	}
}

func TestAllocationRejectsWrongPart(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	other := testutil.SeedPart(t, env.db, "CMP-999")
	stock := testutil.SeedStockItem(t, env.db, other.ID, 10)

	var line *entity.BuildLine
	for i := range order.Lines {
		if order.Lines[i].BomItem.SubPartID == c1.ID {
			line = &order.Lines[i]
		}
	}
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 1},
	}, "user-1"); err == nil {
		t.Fatal("expected error for unmatched part")
	}
}

func TestAllocationRederivesLine(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, c2 := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	stock := testutil.SeedStockItem(t, env.db, c2.ID, 10)

	// 指到 c1 的行但库存是 c2 —— 应重定位到 c2 的行
	var wrongLine, rightLine *entity.BuildLine
	for i := range order.Lines {
		switch order.Lines[i].BomItem.SubPartID {
		case c1.ID:
			wrongLine = &order.Lines[i]
		case c2.ID:
			rightLine = &order.Lines[i]
		}
	}
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: wrongLine.ID, StockItemID: stock.ID, Quantity: 2},
	}, "user-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	var items []entity.BuildItem
	env.db.Where("build_line_id = ?", rightLine.ID).Find(&items)
	if len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("expected allocation on rederived line, got %+v", items)
	}
}

func TestTrackedAllocationRequiresOutput(t *testing.T) {
	env := setupBuildTest(t)
	asm := testutil.SeedPart(t, env.db, "ASM-020", func(p *entity.Part) { p.Assembly = true })
	tracked := testutil.SeedPart(t, env.db, "TRK-001", func(p *entity.Part) { p.Trackable = true })
	testutil.SeedBOMItem(t, env.db, asm.ID, tracked.ID, 1)

	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	stock := testutil.SeedStockItem(t, env.db, tracked.ID, 1, func(s *entity.StockItem) { s.SerialNo = "SN-1" })

	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: order.Lines[0].ID, StockItemID: stock.ID, Quantity: 1},
	}, "user-1"); err == nil {
		t.Fatal("expected error allocating tracked line without output")
	}
}

func TestAutoAllocateInterchangeable(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, c2 := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 10}, "user-1")

	// c1 需求20：两个候选库存，未允许混用时跳过
	testutil.SeedStockItem(t, env.db, c1.ID, 15)
	testutil.SeedStockItem(t, env.db, c1.ID, 15)
	// c2 需求30：单一候选，直接分配
	testutil.SeedStockItem(t, env.db, c2.ID, 50)

	if err := env.svc.AutoAllocateStock(order.ID, AutoAllocateRequest{}, "user-1"); err != nil {
		t.Fatalf("auto allocate: %v", err)
	}
	lines, _ := env.repos.Build.GetLines(order.ID)
	for _, line := range lines {
		switch line.BomItem.SubPartID {
		case c1.ID:
			if line.AllocatedQuantity() != 0 {
				t.Fatalf("expected c1 line skipped, got %v allocated", line.AllocatedQuantity())
			}
		case c2.ID:
			if line.AllocatedQuantity() != 30 {
				t.Fatalf("expected c2 line fully allocated, got %v", line.AllocatedQuantity())
			}
		}
	}

	// 允许混用后 c1 行从两个库存凑齐
	if err := env.svc.AutoAllocateStock(order.ID, AutoAllocateRequest{Interchangeable: true}, "user-1"); err != nil {
		t.Fatalf("auto allocate interchangeable: %v", err)
	}
	lines, _ = env.repos.Build.GetLines(order.ID)
	for _, line := range lines {
		if line.BomItem.SubPartID == c1.ID && line.AllocatedQuantity() != 20 {
			t.Fatalf("expected c1 line allocated 20, got %v", line.AllocatedQuantity())
		}
	}
}

func TestCreateOutputIssuesPendingOrder(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 5}, "user-1")

	outputs, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 5}, "user-1")
	if err != nil {
		t.Fatalf("create output: %v", err)
	}
	if len(outputs) != 1 || !outputs[0].IsBuilding {
		t.Fatalf("expected one in-building output, got %+v", outputs)
	}
	got, _ := env.svc.GetByID(order.ID)
	if got.Status != entity.BuildStatusProduction {
		t.Fatalf("expected auto-issue to PRODUCTION, got %s", got.Status)
	}
}

func TestCreateOutputSerials(t *testing.T) {
	env := setupBuildTest(t)
	asm := testutil.SeedPart(t, env.db, "ASM-030", func(p *entity.Part) {
		p.Assembly = true
		p.Trackable = true
	})
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 2}, "user-1")

	// 序列号缺失
	if _, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 2}, "user-1"); err == nil {
		t.Fatal("expected error for missing serials")
	}
	// 个数不符
	if _, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 2, Serials: []string{"S1"}}, "user-1"); err == nil {
		t.Fatal("expected error for serial count mismatch")
	}

	outputs, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 2, Serials: []string{"S1", "S2"}}, "user-1")
	if err != nil {
		t.Fatalf("create outputs: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}
	for _, o := range outputs {
		if o.Quantity != 1 || o.SerialNo == "" {
			t.Fatalf("expected serialized qty-1 outputs, got %+v", o)
		}
	}

	// 序列号重复
	if _, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 1, Serials: []string{"S1"}}, "user-1"); err == nil {
		t.Fatal("expected error for duplicate serial")
	}
}

func TestCompleteOutputAndBuild(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, c2 := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 2}, "user-1")

	s1 := testutil.SeedStockItem(t, env.db, c1.ID, 10)
	s2 := testutil.SeedStockItem(t, env.db, c2.ID, 10)

	outputs, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 2}, "user-1")
	if err != nil {
		t.Fatalf("create output: %v", err)
	}

	// 完工前散件行必须分配齐
	if err := env.svc.Complete(order.ID, CompleteBuildRequest{}, "user-1"); err == nil {
		t.Fatal("expected completion rejected before allocation")
	}

	lines, _ := env.repos.Build.GetLines(order.ID)
	for _, line := range lines {
		stockID := s1.ID
		if line.BomItem.SubPartID == c2.ID {
			stockID = s2.ID
		}
		if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
			{BuildLineID: line.ID, StockItemID: stockID, Quantity: line.Quantity},
		}, "user-1"); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}

	// 有在制产出时仍不能完工
	if err := env.svc.Complete(order.ID, CompleteBuildRequest{}, "user-1"); err == nil {
		t.Fatal("expected completion rejected with incomplete outputs")
	}

	out, err := env.svc.CompleteOutput(order.ID, CompleteOutputRequest{OutputID: outputs[0].ID}, "user-1")
	if err != nil {
		t.Fatalf("complete output: %v", err)
	}
	if out.IsBuilding {
		t.Fatal("output should no longer be in building")
	}
	got, _ := env.svc.GetByID(order.ID)
	if got.Completed != 2 {
		t.Fatalf("expected completed 2, got %v", got.Completed)
	}

	if err := env.svc.Complete(order.ID, CompleteBuildRequest{}, "user-1"); err != nil {
		t.Fatalf("complete build: %v", err)
	}
	got, _ = env.svc.GetByID(order.ID)
	if got.Status != entity.BuildStatusComplete {
		t.Fatalf("expected COMPLETE, got %s", got.Status)
	}
	if got.CompletionDate == nil {
		t.Fatal("expected completion date set")
	}

	// 同步任务已消耗全部分配
	var remaining []entity.BuildItem
	env.db.Find(&remaining)
	if len(remaining) != 0 {
		t.Fatalf("expected no build items after completion, got %d", len(remaining))
	}
	lines, _ = env.repos.Build.GetLines(order.ID)
	for _, line := range lines {
		if line.Consumed != line.Quantity {
			t.Fatalf("expected line consumed %v, got %v", line.Quantity, line.Consumed)
		}
	}

	// 库存4件：两个拆分后的消耗件 + 两个扣减后的原件 + 产出
	var consumed []entity.StockItem
	env.db.Where("consumed_by_id = ?", order.ID).Find(&consumed)
	if len(consumed) != 2 {
		t.Fatalf("expected 2 consumed stock items, got %d", len(consumed))
	}
}

func TestScrapOutputDoesNotCount(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 3}, "user-1")
	outputs, _ := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 3}, "user-1")

	out, err := env.svc.ScrapOutput(order.ID, ScrapOutputRequest{OutputID: outputs[0].ID, DiscardAllocations: true}, "user-1")
	if err != nil {
		t.Fatalf("scrap output: %v", err)
	}
	if out.Status != entity.StockStatusRejected || out.IsBuilding {
		t.Fatalf("expected rejected non-building output, got %+v", out)
	}
	got, _ := env.svc.GetByID(order.ID)
	if got.Completed != 0 {
		t.Fatalf("scrapped output must not count as completed, got %v", got.Completed)
	}
}

func TestCancelReleasesAllocations(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	stock := testutil.SeedStockItem(t, env.db, c1.ID, 10)

	var line *entity.BuildLine
	for i := range order.Lines {
		if order.Lines[i].BomItem.SubPartID == c1.ID {
			line = &order.Lines[i]
		}
	}
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 2},
	}, "user-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if err := env.svc.Cancel(order.ID, CancelBuildRequest{}, "user-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	var items []entity.BuildItem
	env.db.Find(&items)
	if len(items) != 0 {
		t.Fatalf("expected allocations released on cancel, got %d", len(items))
	}
	// 未消耗库存：原数量不变
	refreshed, _ := env.repos.Stock.GetByID(stock.ID)
	if refreshed.Quantity != 10 || refreshed.ConsumedByID != nil {
		t.Fatalf("stock should be untouched, got %+v", refreshed)
	}
}

func TestCancelConsumesAllocations(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	stock := testutil.SeedStockItem(t, env.db, c1.ID, 2)

	var line *entity.BuildLine
	for i := range order.Lines {
		if order.Lines[i].BomItem.SubPartID == c1.ID {
			line = &order.Lines[i]
		}
	}
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 2},
	}, "user-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if err := env.svc.Cancel(order.ID, CancelBuildRequest{RemoveAllocatedStock: true}, "user-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	var items []entity.BuildItem
	env.db.Find(&items)
	if len(items) != 0 {
		t.Fatalf("expected no allocations after cancel, got %d", len(items))
	}
	refreshed, _ := env.repos.Stock.GetByID(stock.ID)
	if refreshed.ConsumedByID == nil || *refreshed.ConsumedByID != order.ID {
		t.Fatalf("stock should be consumed by the order, got %+v", refreshed)
	}
}

func TestUpdateQuantityRecomputesLines(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 10}, "user-1")

	qty := 4.0
	updated, err := env.svc.Update(order.ID, UpdateBuildRequest{Quantity: &qty}, "user-1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Quantity != 4 {
		t.Fatalf("expected quantity 4, got %v", updated.Quantity)
	}
	quantities := map[float64]bool{}
	for _, line := range updated.Lines {
		quantities[line.Quantity] = true
	}
	if !quantities[8] || !quantities[12] {
		t.Fatalf("expected line quantities 8 and 12, got %v", quantities)
	}

	// 物料不可变更
	other := testutil.SeedPart(t, env.db, "ASM-099", func(p *entity.Part) { p.Assembly = true })
	if _, err := env.svc.Update(order.ID, UpdateBuildRequest{PartID: &other.ID}, "user-1"); err == nil {
		t.Fatal("expected error changing part")
	}
}

func TestCompleteTrimsOverallocation(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, c2 := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")

	s1 := testutil.SeedStockItem(t, env.db, c1.ID, 10)
	s2 := testutil.SeedStockItem(t, env.db, c2.ID, 10)

	lines, _ := env.repos.Build.GetLines(order.ID)
	for _, line := range lines {
		stockID := s1.ID
		if line.BomItem.SubPartID == c2.ID {
			stockID = s2.ID
		}
		// 超量分配一件
		if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
			{BuildLineID: line.ID, StockItemID: stockID, Quantity: line.Quantity + 1},
		}, "user-1"); err != nil {
			t.Fatalf("allocate: %v", err)
		}
	}

	outputs, _ := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 1}, "user-1")
	if _, err := env.svc.CompleteOutput(order.ID, CompleteOutputRequest{OutputID: outputs[0].ID}, "user-1"); err != nil {
		t.Fatalf("complete output: %v", err)
	}

	// 未选择裁剪或接受
	if err := env.svc.Complete(order.ID, CompleteBuildRequest{}, "user-1"); err == nil {
		t.Fatal("expected error for unhandled overallocation")
	}

	if err := env.svc.Complete(order.ID, CompleteBuildRequest{TrimAllocatedStock: true}, "user-1"); err != nil {
		t.Fatalf("complete with trim: %v", err)
	}
	lines, _ = env.repos.Build.GetLines(order.ID)
	for _, line := range lines {
		if line.Consumed != line.Quantity {
			t.Fatalf("expected consumed %v after trim, got %v", line.Quantity, line.Consumed)
		}
	}
}

func TestConsumableLineAlwaysAllocated(t *testing.T) {
	env := setupBuildTest(t)
	asm := testutil.SeedPart(t, env.db, "ASM-040", func(p *entity.Part) { p.Assembly = true })
	glue := testutil.SeedPart(t, env.db, "AUX-001")
	testutil.SeedBOMItem(t, env.db, asm.ID, glue.ID, 0.5, func(b *entity.BOMItem) { b.Consumable = true })

	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 4}, "user-1")
	outputs, _ := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 4}, "user-1")
	if _, err := env.svc.CompleteOutput(order.ID, CompleteOutputRequest{OutputID: outputs[0].ID}, "user-1"); err != nil {
		t.Fatalf("complete output: %v", err)
	}

	// 辅料行无需分配即可完工
	if err := env.svc.Complete(order.ID, CompleteBuildRequest{}, "user-1"); err != nil {
		t.Fatalf("complete build with consumable line: %v", err)
	}
}

func TestConservationIncludesSalesAllocations(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 10}, "user-1")
	stock := testutil.SeedStockItem(t, env.db, c1.ID, 10)

	// 销售预留占用7件
	if err := env.db.Create(&entity.SalesOrderAllocation{
		ID:           "sa-1",
		SalesOrderID: "SO-001",
		StockItemID:  stock.ID,
		Quantity:     7,
	}).Error; err != nil {
		t.Fatalf("seed sales allocation: %v", err)
	}

	var line *entity.BuildLine
	for i := range order.Lines {
		if order.Lines[i].BomItem.SubPartID == c1.ID {
			line = &order.Lines[i]
		}
	}
	// 剩余可分配仅3件
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 4},
	}, "user-1"); err == nil {
		t.Fatal("expected conservation violation including sales reservations")
	}
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 3},
	}, "user-1"); err != nil {
		t.Fatalf("allocate within remaining: %v", err)
	}
}

func TestSerializedAllocationQuantityOne(t *testing.T) {
	env := setupBuildTest(t)
	asm := testutil.SeedPart(t, env.db, "ASM-050", func(p *entity.Part) { p.Assembly = true })
	tracked := testutil.SeedPart(t, env.db, "TRK-050", func(p *entity.Part) { p.Trackable = true })
	testutil.SeedBOMItem(t, env.db, asm.ID, tracked.ID, 2)

	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	outputs, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 1, Serials: []string{"OUT-1"}}, "user-1")
	if err != nil {
		t.Fatalf("create output: %v", err)
	}
	stock := testutil.SeedStockItem(t, env.db, tracked.ID, 1, func(s *entity.StockItem) { s.SerialNo = "SN-50" })

	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: order.Lines[0].ID, StockItemID: stock.ID, Quantity: 2, OutputID: outputs[0].ID},
	}, "user-1"); err == nil {
		t.Fatal("expected error for serialized allocation with quantity != 1")
	}
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: order.Lines[0].ID, StockItemID: stock.ID, Quantity: 1, OutputID: outputs[0].ID},
	}, "user-1"); err != nil {
		t.Fatalf("allocate serialized item: %v", err)
	}
}

func TestAllocationBatchConservation(t *testing.T) {
	env := setupBuildTest(t)
	asm, c1, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 10}, "user-1")
	stock := testutil.SeedStockItem(t, env.db, c1.ID, 10)

	var line *entity.BuildLine
	for i := range order.Lines {
		if order.Lines[i].BomItem.SubPartID == c1.ID {
			line = &order.Lines[i]
		}
	}

	// 同一批次内两条合计超过库存数量，整体拒绝
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 6},
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 6},
	}, "user-1"); err == nil {
		t.Fatal("expected batch conservation violation")
	}
	var items []entity.BuildItem
	env.db.Find(&items)
	if len(items) != 0 {
		t.Fatalf("expected rollback of whole batch, got %d items", len(items))
	}

	// 同一批次内两条同三元组合并为一条记录
	if err := env.svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 3},
		{BuildLineID: line.ID, StockItemID: stock.ID, Quantity: 3},
	}, "user-1"); err != nil {
		t.Fatalf("allocate batch: %v", err)
	}
	env.db.Where("build_line_id = ?", line.ID).Find(&items)
	if len(items) != 1 || items[0].Quantity != 6 {
		t.Fatalf("expected merged allocation of 6 within one batch, got %+v", items)
	}
}

func TestAutoAllocateSharedStockAcrossLines(t *testing.T) {
	env := setupBuildTest(t)
	asm := testutil.SeedPart(t, env.db, "ASM-060", func(p *entity.Part) { p.Assembly = true })
	cmp := testutil.SeedPart(t, env.db, "CMP-060")
	// 两条用料行需求同一子件，各需8件
	testutil.SeedBOMItem(t, env.db, asm.ID, cmp.ID, 8)
	testutil.SeedBOMItem(t, env.db, asm.ID, cmp.ID, 8)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	testutil.SeedStockItem(t, env.db, cmp.ID, 10)

	if err := env.svc.AutoAllocateStock(order.ID, AutoAllocateRequest{}, "user-1"); err != nil {
		t.Fatalf("auto allocate: %v", err)
	}

	// 第二行只能拿到第一行用剩的2件，总分配不超过库存
	var items []entity.BuildItem
	env.db.Find(&items)
	var total float64
	for _, it := range items {
		total += it.Quantity
	}
	if total != 10 {
		t.Fatalf("expected total allocation 10 capped by stock, got %v", total)
	}
}

func TestCreateOutputRollsBackWhenIssueFails(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 5}, "user-1")

	// 创建后启用负责人策略，自动下达会失败
	env.policy.Responsible = true
	if _, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 5}, "user-1"); err == nil {
		t.Fatal("expected error when auto-issue is rejected")
	}

	// 产出不能残留，订单仍为待下达
	var count int64
	env.db.Model(&entity.StockItem{}).Where("build_id = ?", order.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected no outputs persisted after rollback, got %d", count)
	}
	got, _ := env.svc.GetByID(order.ID)
	if got.Status != entity.BuildStatusPending {
		t.Fatalf("expected order still PENDING, got %s", got.Status)
	}
}

func TestOutputQuantityBoundedByRemaining(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 5}, "user-1")

	if _, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 10}, "user-1"); err == nil {
		t.Fatal("expected error creating output beyond order quantity")
	}

	first, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 3}, "user-1")
	if err != nil {
		t.Fatalf("create first output: %v", err)
	}
	second, err := env.svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 3}, "user-1")
	if err != nil {
		t.Fatalf("create second output: %v", err)
	}

	if _, err := env.svc.CompleteOutput(order.ID, CompleteOutputRequest{OutputID: first[0].ID}, "user-1"); err != nil {
		t.Fatalf("complete first output: %v", err)
	}
	// 完工数量不能超过订单数量：3 + 3 > 5
	if _, err := env.svc.CompleteOutput(order.ID, CompleteOutputRequest{OutputID: second[0].ID}, "user-1"); err == nil {
		t.Fatal("expected error completing output beyond remaining quantity")
	}
	got, _ := env.svc.GetByID(order.ID)
	if got.Completed != 3 {
		t.Fatalf("expected completed 3, got %v", got.Completed)
	}
}

func TestCompleteConsumesInlineWhenRunnerUnavailable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	logger := zap.NewNop()
	runner := NewTaskRunner(1, logger)
	runner.Stop()
	svc := NewBuildService(db, repos, DefaultStaticPolicy(), NoopEventBus{}, NewLogNotifier(logger), runner, logger)

	asm := testutil.SeedPart(t, db, "ASM-070", func(p *entity.Part) { p.Assembly = true })
	cmp := testutil.SeedPart(t, db, "CMP-070")
	testutil.SeedBOMItem(t, db, asm.ID, cmp.ID, 2)
	order, err := svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	stock := testutil.SeedStockItem(t, db, cmp.ID, 2)
	if err := svc.AllocateStock(order.ID, []AllocationRequest{
		{BuildLineID: order.Lines[0].ID, StockItemID: stock.ID, Quantity: 2},
	}, "user-1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	outputs, err := svc.CreateOutput(order.ID, CreateOutputRequest{Quantity: 1}, "user-1")
	if err != nil {
		t.Fatalf("create output: %v", err)
	}
	if _, err := svc.CompleteOutput(order.ID, CompleteOutputRequest{OutputID: outputs[0].ID}, "user-1"); err != nil {
		t.Fatalf("complete output: %v", err)
	}

	// 执行器已停止：完工仍成功，剩余分配就地消耗
	if err := svc.Complete(order.ID, CompleteBuildRequest{}, "user-1"); err != nil {
		t.Fatalf("complete build: %v", err)
	}
	var items []entity.BuildItem
	db.Find(&items)
	if len(items) != 0 {
		t.Fatalf("expected allocations consumed despite stopped runner, got %d", len(items))
	}
	refreshed, _ := repos.Stock.GetByID(stock.ID)
	if refreshed.ConsumedByID == nil || *refreshed.ConsumedByID != order.ID {
		t.Fatalf("stock should be consumed by the order, got %+v", refreshed)
	}
}

func TestRevertOnHoldOrder(t *testing.T) {
	env := setupBuildTest(t)
	asm, _, _ := seedAssembly(t, env)
	order, _ := env.svc.Create(CreateBuildRequest{PartID: asm.ID, Quantity: 1}, "user-1")

	// 非挂起状态不能退回
	if err := env.svc.Revert(order.ID, "user-1"); err == nil {
		t.Fatal("expected error reverting a PENDING order")
	}

	if err := env.svc.Issue(order.ID, "user-1"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := env.svc.Hold(order.ID, "user-1"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := env.svc.Revert(order.ID, "user-1"); err != nil {
		t.Fatalf("revert: %v", err)
	}
	got, _ := env.svc.GetByID(order.ID)
	if got.Status != entity.BuildStatusPending {
		t.Fatalf("expected PENDING after revert, got %s", got.Status)
	}

	names := map[string]bool{}
	for _, e := range env.events.Events {
		names[e.Name] = true
	}
	if !names[EventBuildReverted] {
		t.Fatalf("missing revert event: %v", names)
	}

	// 退回后可再次下达
	if err := env.svc.Issue(order.ID, "user-1"); err != nil {
		t.Fatalf("re-issue after revert: %v", err)
	}
}
