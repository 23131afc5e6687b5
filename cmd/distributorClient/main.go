package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/merkle-mint-go/pkg/client"
	"github.com/Layr-Labs/merkle-mint-go/pkg/config"
	"github.com/Layr-Labs/merkle-mint-go/pkg/logger"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-mint-go/pkg/requestSigner"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "distributor-client",
		Usage: "Client for a merkle mint distributor server",
		Description: `Reads distribution state, submits claims and paid mints, and sends
owner-signed admin requests.

Mint and admin commands sign the request body with --private-key.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Distributor server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{config.EnvServerURL},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Hex secp256k1 private key used to sign mint and admin requests",
				EnvVars: []string{config.EnvPrivateKey},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "Show the distribution's public state",
				Action: infoCommand,
			},
			{
				Name:  "claim",
				Usage: "Claim an account's allocation using the proof the server holds",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Usage: "Account to claim for", Required: true},
				},
				Action: claimCommand,
			},
			{
				Name:  "mint",
				Usage: "Buy units at the advertised price",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "quantity", Usage: "Units to buy (1-10)", Value: 1},
				},
				Action: mintCommand,
			},
			{
				Name:  "set-root",
				Usage: "Verify a snapshot file and publish its root",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "snapshot", Usage: "Path to a snapshot JSON file", Required: true},
					&cli.StringFlag{Name: "metadata-pointer", Usage: "Where the snapshot is published"},
				},
				Action: setRootCommand,
			},
			{
				Name:  "free-mint",
				Usage: "Issue units without payment",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "recipient", Usage: "Recipient address", Required: true},
					&cli.Uint64Flag{Name: "quantity", Usage: "Units to issue", Value: 1},
				},
				Action: freeMintCommand,
			},
			{
				Name:  "set-uri",
				Usage: "Set the token metadata URI",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "uri", Usage: "Metadata URI", Required: true},
				},
				Action: setURICommand,
			},
			{
				Name:  "transfer-ownership",
				Usage: "Hand admin rights to another address",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "new-owner", Usage: "New owner address", Required: true},
				},
				Action: transferOwnershipCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newClient(c *cli.Context) (*client.DistributorClient, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cfg := &client.ClientConfig{BaseURL: c.String("server-url"), Logger: l}
	if key := c.String("private-key"); key != "" {
		signer, err := requestSigner.NewRequestSigner(&requestSigner.SignerConfig{PrivateKey: key})
		if err != nil {
			return nil, err
		}
		cfg.Signer = signer
	}
	return client.NewDistributorClient(cfg)
}

func parseAddress(flag, value string) (common.Address, error) {
	addr, err := merkle.NormalizeAddress(value)
	if err != nil {
		return common.Address{}, errors.Wrapf(err, "invalid --%s", flag)
	}
	return addr, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func infoCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	info, err := dc.Distribution(c.Context)
	if err != nil {
		return errors.Wrap(err, "failed to fetch distribution")
	}
	return printJSON(info)
}

func claimCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	account, err := parseAddress("account", c.String("account"))
	if err != nil {
		return err
	}
	resp, err := dc.Claim(c.Context, account)
	if err != nil {
		return errors.Wrapf(err, "failed to claim for %s", account.Hex())
	}
	return printJSON(resp)
}

func mintCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := dc.Mint(c.Context, c.Uint64("quantity"), nil)
	if err != nil {
		return errors.Wrap(err, "failed to mint")
	}
	return printJSON(resp)
}

func setRootCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	path := c.String("snapshot")
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read snapshot %s", path)
	}
	var snapshot types.DistributionSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return errors.Wrapf(err, "failed to parse snapshot %s", path)
	}
	if err := merkle.VerifySnapshot(&snapshot); err != nil {
		return errors.Wrapf(err, "snapshot %s is invalid", path)
	}
	root, err := snapshot.Root()
	if err != nil {
		return err
	}
	if err := dc.SetRoot(c.Context, root, c.String("metadata-pointer"), &snapshot); err != nil {
		return errors.Wrapf(err, "failed to publish root %s", root.Hex())
	}
	fmt.Println(root.Hex())
	return nil
}

func freeMintCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	recipient, err := parseAddress("recipient", c.String("recipient"))
	if err != nil {
		return err
	}
	resp, err := dc.FreeMint(c.Context, recipient, c.Uint64("quantity"))
	if err != nil {
		return errors.Wrap(err, "failed to free mint")
	}
	return printJSON(resp)
}

func setURICommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	if err := dc.SetURI(c.Context, c.String("uri")); err != nil {
		return errors.Wrap(err, "failed to set uri")
	}
	return nil
}

func transferOwnershipCommand(c *cli.Context) error {
	dc, err := newClient(c)
	if err != nil {
		return err
	}
	newOwner, err := parseAddress("new-owner", c.String("new-owner"))
	if err != nil {
		return err
	}
	if err := dc.TransferOwnership(c.Context, newOwner); err != nil {
		return errors.Wrap(err, "failed to transfer ownership")
	}
	return nil
}
