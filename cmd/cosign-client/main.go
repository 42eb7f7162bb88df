package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	internalAws "github.com/Layr-Labs/nft-cosigner-go/internal/aws"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/client"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/config"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/logger"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer/awsKmsSigner"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/signer/inMemorySigner"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "cosign-client",
		Usage: "Client for the NFT cosign authorization server",
		Description: `Talks to a cosign server and manages its KMS signing key.

This client can:
- Request and locally verify mint cosignatures
- Upsert and list collection windows with the admin key
- Generate local keys and provision AWS KMS secp256k1 signing keys`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Cosign server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{config.EnvCosignServerURL},
			},
			&cli.StringFlag{
				Name:    "admin-key",
				Usage:   "Admin key for collection endpoints",
				EnvVars: []string{config.EnvCosignAdminKey},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "cosign",
				Usage: "Request a cosignature for a mint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection", Usage: "Collection contract address", Required: true},
					&cli.StringFlag{Name: "minter", Usage: "Minter address", Required: true},
					&cli.Uint64Flag{Name: "qty", Usage: "Quantity to mint", Value: 1},
					&cli.StringFlag{Name: "expected-cosigner", Usage: "Fail unless the signature recovers to this address"},
				},
				Action: cosignCommand,
			},
			{
				Name:  "verify",
				Usage: "Verify a cosign response locally",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "collection", Usage: "Collection contract address", Required: true},
					&cli.StringFlag{Name: "minter", Usage: "Minter address", Required: true},
					&cli.Uint64Flag{Name: "qty", Usage: "Quantity that was signed", Required: true},
					&cli.StringFlag{Name: "sig", Usage: "0x signature", Required: true},
					&cli.Int64Flag{Name: "timestamp", Usage: "Signed timestamp", Required: true},
					&cli.StringFlag{Name: "cosigner", Usage: "Reported cosigner address", Required: true},
				},
				Action: verifyCommand,
			},
			{
				Name:  "collections",
				Usage: "Manage collection windows",
				Subcommands: []*cli.Command{
					{
						Name:  "upsert",
						Usage: "Create or replace a collection window",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "collection", Usage: "Collection contract address", Required: true},
							&cli.Int64Flag{Name: "start", Usage: "Window start (unix seconds), omitted when unset"},
							&cli.Int64Flag{Name: "end", Usage: "Window end (unix seconds), omitted when unset"},
						},
						Action: upsertCollectionCommand,
					},
					{
						Name:   "list",
						Usage:  "List collection windows",
						Action: listCollectionsCommand,
					},
				},
			},
			{
				Name:  "local-key",
				Usage: "Manage local cosigner keys",
				Subcommands: []*cli.Command{
					{
						Name:   "generate",
						Usage:  "Generate a secp256k1 key for COSIGN_SIGNER_PRIVATE_KEY",
						Action: generateLocalKeyCommand,
					},
				},
			},
			{
				Name:  "kms",
				Usage: "Manage AWS KMS signing keys",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "aws-region", Usage: "AWS region override", EnvVars: []string{config.EnvCosignAWSRegion}},
				},
				Subcommands: []*cli.Command{
					{
						Name:  "create-key",
						Usage: "Create a secp256k1 signing key",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Usage: "Key name tag", Required: true},
							&cli.StringFlag{Name: "alias", Usage: "Alias (without alias/ prefix)"},
							&cli.StringFlag{Name: "environment", Usage: "Environment tag", Value: "production"},
						},
						Action: createKMSKeyCommand,
					},
					{
						Name:  "key-info",
						Usage: "Show the Ethereum address of a KMS key",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "key-id", Usage: "KMS key id, ARN or alias", Required: true, EnvVars: []string{config.EnvCosignKMSKeyId}},
						},
						Action: kmsKeyInfoCommand,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// createClient creates a new cosign client from CLI context
func createClient(c *cli.Context) (*client.Client, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return client.NewClient(&client.ClientConfig{
		BaseURL:  c.String("server-url"),
		AdminKey: c.String("admin-key"),
		Logger:   l,
	})
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cosignCommand(c *cli.Context) error {
	cl, err := createClient(c)
	if err != nil {
		return err
	}

	req := &types.CosignRequest{
		CollectionContract: c.String("collection"),
		Minter:             c.String("minter"),
		Qty:                c.Uint64("qty"),
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	resp, err := cl.Cosign(c.Context, req)
	if err != nil {
		return err
	}
	if err := client.VerifyCosignature(req, resp, c.String("expected-cosigner")); err != nil {
		return fmt.Errorf("cosignature did not verify: %w", err)
	}
	return printJSON(resp)
}

func verifyCommand(c *cli.Context) error {
	req := &types.CosignRequest{
		CollectionContract: c.String("collection"),
		Minter:             c.String("minter"),
		Qty:                c.Uint64("qty"),
	}
	resp := &types.CosignResponse{
		Sig:       c.String("sig"),
		Timestamp: c.Int64("timestamp"),
		Cosigner:  c.String("cosigner"),
	}
	if err := client.VerifyCosignature(req, resp, ""); err != nil {
		return err
	}
	fmt.Printf("Signature valid: signed by %s\n", resp.Cosigner)
	return nil
}

func upsertCollectionCommand(c *cli.Context) error {
	cl, err := createClient(c)
	if err != nil {
		return err
	}

	record := &types.CollectionRecord{CollectionContract: c.String("collection")}
	if c.IsSet("start") {
		start := c.Int64("start")
		record.StartTimeUnixSeconds = &start
	}
	if c.IsSet("end") {
		end := c.Int64("end")
		record.EndTimeUnixSeconds = &end
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid collection: %w", err)
	}

	stored, err := cl.UpsertCollection(c.Context, record)
	if err != nil {
		return err
	}
	return printJSON(stored)
}

func listCollectionsCommand(c *cli.Context) error {
	cl, err := createClient(c)
	if err != nil {
		return err
	}

	records, err := cl.ListCollections(c.Context)
	if err != nil {
		return err
	}
	return printJSON(records)
}

func generateLocalKeyCommand(c *cli.Context) error {
	generated, err := inMemorySigner.GenerateKey()
	if err != nil {
		return err
	}

	fmt.Printf("Address:     %s\n", generated.Address.Hex())
	fmt.Printf("Private key: %s\n", generated.PrivateKeyHex)
	return nil
}

func kmsClientFromContext(c *cli.Context) (awsKmsSigner.KMSAPI, error) {
	awsCfg, err := internalAws.LoadAWSConfig(c.Context, c.String("aws-region"))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return internalAws.NewClients(awsCfg).KMS, nil
}

func createKMSKeyCommand(c *cli.Context) error {
	kmsClient, err := kmsClientFromContext(c)
	if err != nil {
		return err
	}

	info, err := awsKmsSigner.CreateSigningKey(c.Context, kmsClient, c.String("name"), c.String("alias"), c.String("environment"))
	if err != nil {
		return err
	}

	fmt.Printf("Key ID:     %s\n", info.KeyId)
	fmt.Printf("Address:    %s\n", info.Address.Hex())
	fmt.Printf("Public key: %s\n", info.PublicKeyHex())
	return nil
}

func kmsKeyInfoCommand(c *cli.Context) error {
	kmsClient, err := kmsClientFromContext(c)
	if err != nil {
		return err
	}

	info, err := awsKmsSigner.DescribeSigningKey(c.Context, kmsClient, c.String("key-id"))
	if err != nil {
		return err
	}

	fmt.Printf("Key ID:     %s\n", info.KeyId)
	fmt.Printf("Address:    %s\n", info.Address.Hex())
	fmt.Printf("Public key: %s\n", info.PublicKeyHex())
	return nil
}
