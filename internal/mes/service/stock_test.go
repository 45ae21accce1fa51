package service

import (
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/mes/entity"
	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/testutil"
)

func TestCreateStockItemSerialRules(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewStockService(repository.NewStockRepository(db))
	part := testutil.SeedPart(t, db, "CMP-S01")

	if _, err := svc.CreateItem(CreateStockItemRequest{PartID: part.ID, Quantity: 5, SerialNo: "SN-1"}); err == nil {
		t.Fatal("expected error for serialized stock with quantity != 1")
	}
	item, err := svc.CreateItem(CreateStockItemRequest{PartID: part.ID, Quantity: 1, SerialNo: "SN-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !item.Serialized() || !item.InStock() {
		t.Fatalf("expected serialized in-stock item, got %+v", item)
	}
}

func TestSplitStockItem(t *testing.T) {
	db := testutil.SetupTestDB(t)
	part := testutil.SeedPart(t, db, "CMP-S02")
	item := testutil.SeedStockItem(t, db, part.ID, 10, func(s *entity.StockItem) { s.BatchNo = "B-1" })

	split, err := splitStockItem(db, item, 4, "user-1")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if split.Quantity != 4 || item.Quantity != 6 {
		t.Fatalf("expected 4/6 split, got %v/%v", split.Quantity, item.Quantity)
	}
	if split.BatchNo != "B-1" {
		t.Fatalf("split should inherit batch, got %q", split.BatchNo)
	}

	// 拆分数量越界
	if _, err := splitStockItem(db, item, 6, "user-1"); err == nil {
		t.Fatal("expected error splitting entire quantity")
	}
	if _, err := splitStockItem(db, item, 0, "user-1"); err == nil {
		t.Fatal("expected error splitting zero")
	}

	// 拆分留痕
	var entries []entity.StockTracking
	db.Where("stock_item_id = ?", split.ID).Find(&entries)
	if len(entries) != 1 || entries[0].TrackingType != entity.TrackingSplitFromItem {
		t.Fatalf("expected split tracking entry, got %+v", entries)
	}
}

func TestCreateLocationPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewStockService(repository.NewStockRepository(db))

	root, err := svc.CreateLocation(CreateLocationRequest{Name: "原料仓"})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if root.Path != root.ID {
		t.Fatalf("root path should be own id, got %s", root.Path)
	}
	child, err := svc.CreateLocation(CreateLocationRequest{Name: "A区", ParentID: root.ID})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if child.Path != root.ID+"/"+child.ID {
		t.Fatalf("unexpected child path %s", child.Path)
	}
}
