// flamectl is the operator command line for a FlameKV cluster.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/eepycrawl/flamekv/kv/client"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type commandFlags struct {
	kvs     string
	flame   string
	timeout time.Duration
}

func (f *commandFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.kvs, "kvs", "k", "127.0.0.1:8000", "KVS coordinator address, host:port")
	fs.StringVarP(&f.flame, "flame", "f", "127.0.0.1:9000", "Flame coordinator address, host:port")
	fs.DurationVar(&f.timeout, "timeout", 0, "give up after this long, 0 waits forever")
}

func (f *commandFlags) context() (context.Context, context.CancelFunc) {
	if f.timeout > 0 {
		return context.WithTimeout(context.Background(), f.timeout)
	}
	return context.WithCancel(context.Background())
}

func (f *commandFlags) kvsClient() *client.Client {
	return client.NewWithHTTPClient(f.kvs, &http.Client{})
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	flags := &commandFlags{}
	rootCmd := &cobra.Command{
		Use:           "flamectl",
		Short:         "FlameKV control",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(rootCmd.PersistentFlags())
	rootCmd.AddCommand(
		newSubmitCommand(flags),
		newKVSCommand(flags),
		newWorkersCommand(flags),
	)
	return rootCmd
}

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
