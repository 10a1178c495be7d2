// Package main provides the Starforge sales warehouse pipeline.
//
// The binary has three commands: "run" executes the batch pipeline
// (clean, enrich, model, materialize) against the warehouse, "serve" starts
// the read-only reporting API, and "load" appends a raw CSV export to the
// raw order layer.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/starforge-io/starforge/internal/api"
	"github.com/starforge-io/starforge/internal/cleaning"
	"github.com/starforge-io/starforge/internal/config"
	"github.com/starforge-io/starforge/internal/dataset"
	"github.com/starforge-io/starforge/internal/enrichment"
	"github.com/starforge-io/starforge/internal/journal"
	"github.com/starforge-io/starforge/internal/materialize"
	"github.com/starforge-io/starforge/internal/modeling"
	"github.com/starforge-io/starforge/internal/pipeline"
	"github.com/starforge-io/starforge/internal/warehouse"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "starforge"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	command := "run"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting Starforge",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("command", command),
	)

	var err error

	switch command {
	case "run":
		err = runPipeline(context.Background(), logger)
	case "serve":
		err = serveAPI(logger)
	case "load":
		if flag.NArg() < 2 {
			err = fmt.Errorf("usage: %s load <orders.csv>", name)
		} else {
			err = loadRawOrders(context.Background(), logger, flag.Arg(1))
		}
	default:
		err = fmt.Errorf("unknown command: %s (expected run, serve or load)", command)
	}

	if err != nil {
		logger.Error("Command failed",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Starforge finished", slog.String("command", command))
}

// runPipeline executes the enabled pipeline stages in order and journals
// every run.
func runPipeline(ctx context.Context, logger *slog.Logger) error {
	pipelineConfig := pipeline.LoadConfig()

	conn, err := connectWarehouse(ctx, logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	sink, closeSink, err := buildJournalSink(conn, logger)
	if err != nil {
		return err
	}

	defer closeSink()

	orders, err := warehouse.NewOrderStore(conn, logger)
	if err != nil {
		return err
	}

	star, err := warehouse.NewStarStore(conn, logger)
	if err != nil {
		return err
	}

	views, err := warehouse.NewViewStore(conn, logger)
	if err != nil {
		return err
	}

	viewConfig, err := materialize.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load view definitions: %w", err)
	}

	stages, err := buildStages(pipelineConfig, logger, orders, star, views, viewConfig.Views)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(pipelineConfig.Dataset, sink, logger)

	logger.Info("Pipeline run starting",
		slog.String("run_id", runner.RunID().String()),
		slog.String("dataset", pipelineConfig.Dataset),
		slog.Int("views", len(viewConfig.Views)),
	)

	return pipeline.NewPipeline(runner, pipelineConfig.Stages, stages...).Run(ctx)
}

// buildStages assembles the pipeline stages. The geocoder is only
// constructed when the enrich stage is enabled, so a disabled stage costs
// nothing and needs no configuration.
func buildStages(
	cfg *pipeline.Config,
	logger *slog.Logger,
	orders *warehouse.OrderStore,
	star *warehouse.StarStore,
	views *warehouse.ViewStore,
	definitions []materialize.ViewDefinition,
) ([]pipeline.Stage, error) {
	cleaner, err := cleaning.New()
	if err != nil {
		return nil, fmt.Errorf("failed to build cleaner: %w", err)
	}

	stages := []pipeline.Stage{pipeline.NewCleanStage(orders, cleaner)}

	if cfg.Stages.Enabled(pipeline.StageEnrich) {
		geocoder, err := enrichment.NewHTTPGeocoder(enrichment.LoadGeocoderConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to build geocoder: %w", err)
		}

		stages = append(stages, pipeline.NewEnrichStage(orders, enrichment.NewEnricher(geocoder, logger, 0)))
	}

	modeler := modeling.NewModeler(modeling.WithRejectionThreshold(cfg.RejectionThreshold))

	return append(stages,
		pipeline.NewModelStage(orders, star, modeler),
		pipeline.NewMaterializeStage(star, views, materialize.NewMaterializer(logger), definitions),
	), nil
}

// serveAPI starts the read-only reporting HTTP server and blocks until
// shutdown.
func serveAPI(logger *slog.Logger) error {
	ctx := context.Background()

	conn, err := connectWarehouse(ctx, logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	views, err := warehouse.NewViewStore(conn, logger)
	if err != nil {
		return err
	}

	runs, err := warehouse.NewJournalStore(conn)
	if err != nil {
		return err
	}

	server := api.NewServer(api.LoadServerConfig(), views, runs, conn, version)

	return server.Start()
}

// loadRawOrders appends one CSV export to the raw order layer. Values are
// stored untyped; the cleaning stage owns all parsing.
func loadRawOrders(ctx context.Context, logger *slog.Logger, path string) error {
	conn, err := connectWarehouse(ctx, logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	orders, err := warehouse.NewOrderStore(conn, logger)
	if err != nil {
		return err
	}

	file, err := os.Open(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	// Loads append: numbering continues after the highest stored seq so
	// repeated exports never collide on the raw layer's key.
	lastSeq, err := orders.MaxRawSeq(ctx)
	if err != nil {
		return err
	}

	records, err := readRawCSV(file, lastSeq)
	if err != nil {
		return err
	}

	if err := orders.InsertRaw(ctx, records); err != nil {
		return err
	}

	logger.Info("Loaded raw orders",
		slog.String("file", path),
		slog.Int("rows", len(records)),
	)

	return nil
}

// readRawCSV parses a raw order export, numbering rows from afterSeq+1.
// Column headers are normalized, so "Order ID", "order-id" and "Order_ID"
// all land in the same field; unknown columns are ignored.
func readRawCSV(r io.Reader, afterSeq int64) ([]dataset.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = dataset.NormalizeColumnName(h)
	}

	var records []dataset.RawRecord

	for seq := afterSeq + 1; ; seq++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", seq-afterSeq, err)
		}

		rec := dataset.RawRecord{Seq: seq}

		for i, value := range row {
			if i >= len(columns) {
				break
			}

			setRawField(&rec, columns[i], value)
		}

		records = append(records, rec)
	}

	return records, nil
}

func setRawField(rec *dataset.RawRecord, column, value string) {
	switch column {
	case "order_id":
		rec.OrderID = value
	case "order_date":
		rec.OrderDate = value
	case "ship_date":
		rec.ShipDate = value
	case "ship_mode":
		rec.ShipMode = value
	case "customer_id":
		rec.CustomerID = value
	case "customer_name":
		rec.CustomerName = value
	case "segment":
		rec.Segment = value
	case "country":
		rec.Country = value
	case "city":
		rec.City = value
	case "state":
		rec.State = value
	case "postal_code":
		rec.PostalCode = value
	case "region":
		rec.Region = value
	case "product_id":
		rec.ProductID = value
	case "category":
		rec.Category = value
	case "sub_category":
		rec.SubCategory = value
	case "product_name":
		rec.ProductName = value
	case "sales":
		rec.Sales = value
	case "quantity":
		rec.Quantity = value
	case "discount":
		rec.Discount = value
	case "profit":
		rec.Profit = value
	}
}

func connectWarehouse(ctx context.Context, logger *slog.Logger) (*warehouse.Connection, error) {
	warehouseConfig := warehouse.LoadConfig()

	conn, err := warehouse.Connect(ctx, warehouseConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	logger.Info("Warehouse connection established",
		slog.String("database_url", warehouseConfig.MaskDatabaseURL()),
	)

	return conn, nil
}

// buildJournalSink assembles the execution log destinations: the warehouse
// journal table always, plus Kafka when brokers are configured.
func buildJournalSink(conn *warehouse.Connection, logger *slog.Logger) (journal.Sink, func(), error) {
	store, err := warehouse.NewJournalStore(conn)
	if err != nil {
		return nil, nil, err
	}

	kafkaConfig, enabled := journal.LoadKafkaConfig()
	if !enabled {
		return store, func() {}, nil
	}

	kafkaSink := journal.NewKafkaSink(kafkaConfig)

	logger.Info("Kafka journal sink enabled",
		slog.String("topic", kafkaConfig.Topic),
	)

	closeSink := func() {
		if err := kafkaSink.Close(); err != nil {
			logger.Warn("Failed to close Kafka journal sink", slog.String("error", err.Error()))
		}
	}

	return journal.NewMultiSink(store, kafkaSink), closeSink, nil
}
