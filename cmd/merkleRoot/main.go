package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-mint-go/pkg/logger"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

const defaultOutputDir = "generated"

func main() {
	app := &cli.App{
		Name:  "merkle-root",
		Usage: "Build and verify merkle airdrop snapshots",
		Description: `Builds a distribution snapshot from an address -> amount balance map.

The snapshot holds the merkle root, the token total and, for every address, its
index, amount and proof. Publish the root to a distributor and serve the
snapshot to claimants.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Generate a snapshot from a JSON balance map",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "json-input",
						Aliases:  []string{"i"},
						Usage:    "Path to a JSON object mapping addresses to amounts",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "output-name",
						Aliases:  []string{"o"},
						Usage:    "Snapshot file name, without extension",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "Directory the snapshot is written to",
						Value: defaultOutputDir,
					},
				},
				Action: generateCommand,
			},
			{
				Name:  "verify",
				Usage: "Re-derive every leaf of a snapshot and check its proof",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "snapshot",
						Aliases:  []string{"s"},
						Usage:    "Path to a snapshot JSON file",
						Required: true,
					},
				},
				Action: verifyCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

func generateCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	snapshot, path, err := generate(c.String("json-input"), c.String("output-dir"), c.String("output-name"))
	if err != nil {
		return err
	}

	l.Sugar().Infow("Snapshot generated",
		"root", snapshot.MerkleRoot,
		"token_total", snapshot.TokenTotal,
		"claims", len(snapshot.Claims),
		"output", path,
	)
	fmt.Println(snapshot.MerkleRoot)
	return nil
}

func verifyCommand(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	snapshot, err := verify(c.String("snapshot"))
	if err != nil {
		return err
	}

	l.Sugar().Infow("Snapshot verified",
		"root", snapshot.MerkleRoot,
		"token_total", snapshot.TokenTotal,
		"claims", len(snapshot.Claims),
	)
	return nil
}

// generate builds a snapshot from the balance map at input and writes it to
// <outputDir>/<name>.json
func generate(input, outputDir, name string) (*types.DistributionSnapshot, string, error) {
	if name == "" {
		return nil, "", errors.New("output name is required")
	}

	raw, err := os.ReadFile(input)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to read balance map %s", input)
	}
	entries, err := merkle.ParseBalanceMap(raw)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to parse balance map %s", input)
	}
	snapshot, err := merkle.Build(entries)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to build snapshot")
	}

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to encode snapshot")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, "", errors.Wrapf(err, "failed to create output directory %s", outputDir)
	}
	path := filepath.Join(outputDir, name+".json")
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return nil, "", errors.Wrapf(err, "failed to write snapshot %s", path)
	}
	return snapshot, path, nil
}

// verify loads the snapshot at path and checks it against its own root
func verify(path string) (*types.DistributionSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read snapshot %s", path)
	}
	var snapshot types.DistributionSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, errors.Wrapf(err, "failed to parse snapshot %s", path)
	}
	if err := merkle.VerifySnapshot(&snapshot); err != nil {
		return nil, errors.Wrapf(err, "snapshot %s is invalid", path)
	}
	return &snapshot, nil
}
