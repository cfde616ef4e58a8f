package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"serialtrust/pkg/factoryclient"
)

func runGenKeys(args []string) int {
	fs := flag.NewFlagSet("genkeys", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var outKey, outPub string
	fs.StringVar(&outKey, "out-key", "factory_key.pem", "private key output path")
	fs.StringVar(&outPub, "out-pub", "", "public key output path (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	pair, err := factoryclient.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate keys: %v\n", err)
		return 1
	}
	if err := os.WriteFile(outKey, pair.PrivateKeyPEM, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write private key: %v\n", err)
		return 1
	}
	if outPub == "" {
		fmt.Println(pair.PublicKeyBase64)
		return 0
	}
	if err := os.WriteFile(outPub, []byte(pair.PublicKeyBase64+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write public key: %v\n", err)
		return 1
	}
	return 0
}

func runRegister(args []string) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var baseURL, factory, pubPath string
	fs.StringVar(&baseURL, "url", "http://localhost:8080", "service base url")
	fs.StringVar(&factory, "factory", "", "factory name")
	fs.StringVar(&pubPath, "pub", "", "public key file (base64)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if factory == "" || pubPath == "" {
		fs.Usage()
		return 1
	}
	pub, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read public key: %v\n", err)
		return 1
	}

	client := factoryclient.New(baseURL, factory, nil)
	result, err := client.Register(context.Background(), string(trimNewline(pub)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		return 1
	}
	return printJSON(result)
}

func runUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var baseURL, factory, keyPath, inPath, batchID string
	var chunkIndex, totalChunks, testRuns int
	fs.StringVar(&baseURL, "url", "http://localhost:8080", "service base url")
	fs.StringVar(&factory, "factory", "", "factory name")
	fs.StringVar(&keyPath, "key", "", "private key PEM file")
	fs.StringVar(&inPath, "in", "", "CSV file of device_id,wwyy rows")
	fs.StringVar(&batchID, "batch-id", "", "batch id")
	fs.IntVar(&chunkIndex, "chunk-index", -1, "chunk index")
	fs.IntVar(&totalChunks, "total-chunks", 0, "total chunks in batch")
	fs.IntVar(&testRuns, "test-runs", 0, "test run count")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if factory == "" || keyPath == "" || inPath == "" {
		fs.Usage()
		return 1
	}

	client, ok := newSigningClient(baseURL, factory, keyPath)
	if !ok {
		return 1
	}
	payload, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read payload: %v\n", err)
		return 1
	}

	ctx := context.Background()
	var result *factoryclient.UploadResult
	switch {
	case chunkIndex >= 0:
		if batchID == "" || totalChunks <= 0 {
			fmt.Fprintln(os.Stderr, "--batch-id and --total-chunks are required with --chunk-index")
			return 1
		}
		result, err = client.UploadChunk(ctx, batchID, chunkIndex, totalChunks, testRuns, payload)
	case batchID != "":
		result, err = client.UploadBatch(ctx, batchID, testRuns, payload)
	default:
		result, err = client.UploadSerials(ctx, payload)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload: %v\n", err)
		return 1
	}
	return printJSON(result)
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var baseURL, factory string
	fs.StringVar(&baseURL, "url", "http://localhost:8080", "service base url")
	fs.StringVar(&factory, "factory", "", "factory name")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if factory == "" {
		fs.Usage()
		return 1
	}

	client := factoryclient.New(baseURL, factory, nil)
	result, err := client.QueueStatus(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}
	return printJSON(result)
}

func runRetry(args []string) int {
	fs := flag.NewFlagSet("retry", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var baseURL, factory, keyPath, batchID string
	fs.StringVar(&baseURL, "url", "http://localhost:8080", "service base url")
	fs.StringVar(&factory, "factory", "", "factory name")
	fs.StringVar(&keyPath, "key", "", "private key PEM file")
	fs.StringVar(&batchID, "batch-id", "", "batch id (optional)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if factory == "" {
		fs.Usage()
		return 1
	}

	client := factoryclient.New(baseURL, factory, nil)
	if keyPath != "" {
		signing, ok := newSigningClient(baseURL, factory, keyPath)
		if !ok {
			return 1
		}
		client = signing
	}
	if err := client.RetryFailed(context.Background(), batchID); err != nil {
		fmt.Fprintf(os.Stderr, "retry: %v\n", err)
		return 1
	}
	fmt.Println("retry requested")
	return 0
}

func runVerifySerial(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var baseURL, serial string
	fs.StringVar(&baseURL, "url", "http://localhost:8080", "service base url")
	fs.StringVar(&serial, "sn", "", "serial number")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if serial == "" {
		fs.Usage()
		return 1
	}

	client := factoryclient.New(baseURL, "", nil)
	result, err := client.VerifySerial(context.Background(), serial)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		return 1
	}
	return printJSON(result)
}

func newSigningClient(baseURL, factory, keyPath string) (*factoryclient.Client, bool) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read private key: %v\n", err)
		return nil, false
	}
	key, err := factoryclient.ParsePrivateKeyPEM(pem)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse private key: %v\n", err)
		return nil, false
	}
	return factoryclient.New(baseURL, factory, key), true
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}
