package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/OmniMCP-AI/recalc"
	"github.com/OmniMCP-AI/recalc/badger"
	"github.com/OmniMCP-AI/recalc/duckdb"
)

// sumEvaluator adds up every number the formula references. It is enough to
// drive the engine end to end; real deployments plug in a full formula
// evaluator.
type sumEvaluator struct{}

func (sumEvaluator) Evaluate(ctx recalc.EvalContext, parsed recalc.ParsedFormula, _ recalc.CellReference) recalc.Value {
	formula, ok := parsed.(*recalc.TokenFormula)
	if !ok {
		return recalc.Error(recalc.ErrorValue)
	}
	var sum float64
	var add func(target recalc.Target)
	add = func(target recalc.Target) {
		switch target.Kind() {
		case recalc.TargetCell:
			if v := ctx.Value(target.Cell()); v.Kind == recalc.ValueNumber {
				sum += v.Number
			}
		case recalc.TargetRange:
			for _, cv := range ctx.RangeValues(target.Range()) {
				if cv.Value.Kind == recalc.ValueNumber {
					sum += cv.Value.Number
				}
			}
		case recalc.TargetLabel:
			if bound, ok := ctx.Label(target.Label()); ok {
				add(bound)
			}
		}
	}
	for _, target := range formula.References() {
		add(target)
	}
	return recalc.Number(sum)
}

func memoryMB() float64 {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}

func main() {
	var (
		configPath = flag.String("config", "", "YAML engine configuration")
		dbPath     = flag.String("db", "", "DuckDB file for cells (empty keeps cells in memory)")
		labelsPath = flag.String("labels", "", "BadgerDB directory for labels (empty keeps labels in memory)")
		rows       = flag.Int("rows", 1000, "number of dependent rows to generate")
		batch      = flag.Bool("batch", true, "use batch propagation")
		cpuProfile = flag.String("cpuprofile", "", "write a CPU profile to this file")
	)
	flag.Parse()

	cfg := recalc.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = recalc.LoadConfig(*configPath); err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	logger, err := recalc.NewLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}

	deps := recalc.Dependencies{Evaluator: sumEvaluator{}, Logger: logger}
	if *dbPath != "" {
		cells, err := duckdb.OpenWithConfig(&duckdb.Config{Path: *dbPath, MemoryLimit: "1GB"})
		if err != nil {
			log.Fatalf("open cell store: %v", err)
		}
		defer cells.Close()
		deps.Cells = cells
	}
	if *labelsPath != "" {
		labels, err := badger.Open(badger.DefaultConfig(*labelsPath))
		if err != nil {
			log.Fatalf("open label store: %v", err)
		}
		defer labels.Close()
		deps.Labels = labels
	}
	engine, err := recalc.NewEngine(deps, cfg)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	ctx := context.Background()
	if err := engine.Rebuild(ctx); err != nil {
		log.Fatalf("rebuild references: %v", err)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatalf("create CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	mode := recalc.Immediate
	if *batch {
		mode = recalc.Batch
	}
	baseline := memoryMB()

	// Column A holds inputs, column B reads them and C1 totals column B.
	start := time.Now()
	for row := 1; row <= *rows; row++ {
		a := recalc.NewCellReference(1, row)
		if _, err := engine.SaveCell(ctx, &recalc.Cell{Ref: a, Formula: fmt.Sprint(row)}, recalc.Immediate); err != nil {
			log.Fatalf("save %s: %v", a, err)
		}
		b := recalc.NewCellReference(2, row)
		if _, err := engine.SaveCell(ctx, &recalc.Cell{Ref: b, Formula: "=" + a.String()}, recalc.Immediate); err != nil {
			log.Fatalf("save %s: %v", b, err)
		}
	}
	total := recalc.MustLabel("TOTAL")
	totalCell := recalc.MustCell("C1")
	if _, err := engine.SaveCell(ctx, &recalc.Cell{Ref: totalCell, Formula: fmt.Sprintf("=SUM(B1:B%d)", *rows)}, mode); err != nil {
		log.Fatalf("save total: %v", err)
	}
	if _, err := engine.SaveLabel(ctx, total, recalc.CellTarget(totalCell), mode); err != nil {
		log.Fatalf("save label: %v", err)
	}
	loadDuration := time.Since(start)

	start = time.Now()
	inserted, err := engine.InsertColumnOrRow(ctx, recalc.Columns, 1, 1, mode)
	if err != nil {
		log.Fatalf("insert column: %v", err)
	}
	insertDuration := time.Since(start)

	start = time.Now()
	deleted, err := engine.DeleteColumnOrRow(ctx, recalc.Rows, 2, 1, mode)
	if err != nil {
		log.Fatalf("delete row: %v", err)
	}
	deleteDuration := time.Since(start)

	target, _, err := engine.Labels().Load(total)
	if err != nil {
		log.Fatalf("load label: %v", err)
	}
	cell, err := engine.LoadCell(ctx, target.Cell(), recalc.ComputeIfNecessary)
	if err != nil {
		log.Fatalf("load total: %v", err)
	}

	fmt.Println("========== Summary ==========")
	fmt.Printf("Mode: %s\n", mode)
	fmt.Printf("Rows: %d\n", *rows)
	fmt.Printf("Load time: %v\n", loadDuration)
	fmt.Printf("Insert column: %v (%d cells changed)\n", insertDuration, inserted.Len())
	fmt.Printf("Delete row: %v (%d cells changed)\n", deleteDuration, deleted.Len())
	fmt.Printf("TOTAL -> %s = %s (%s)\n", target, cell.Formula, cell.Value.Text())
	fmt.Printf("Memory: %.2f MB (+%.2f MB)\n", memoryMB(), memoryMB()-baseline)
}
