package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"firestige.xyz/callx/internal/command"
)

// ConsoleClient is the part of the console client the commands use.
type ConsoleClient interface {
	Call(ctx context.Context, method string, params interface{}) (*command.Response, error)
}

var cli ConsoleClient

// SetClient injects a client, used by tests.
func SetClient(c ConsoleClient) {
	cli = c
}

// GetClient returns the injected client.
func GetClient() ConsoleClient {
	return cli
}

func consoleClient() ConsoleClient {
	if cli != nil {
		return cli
	}
	return command.NewClient(consoleAddr, 10*time.Second)
}

// callAndPrint runs one console method and prints its result as indented JSON.
func callAndPrint(ctx context.Context, client ConsoleClient, out io.Writer, method string, params interface{}) error {
	resp, err := client.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}

	// config is already YAML text
	if s, ok := resp.Result.(string); ok {
		fmt.Fprintln(out, s)
		return nil
	}
	data, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
