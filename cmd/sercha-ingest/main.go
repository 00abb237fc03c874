package main

// @title           Sercha Ingest API
// @version         1.0
// @description     Document ingestion and hybrid search for technical manuals, parts catalogs, service bulletins and error code databases.

// @contact.name   Sercha OSS
// @contact.url    https://github.com/custodia-labs/sercha-ingest/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Static API key. Format: "Bearer {key}"

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/custodia-labs/sercha-ingest/docs"
	"github.com/custodia-labs/sercha-ingest/internal/adapters/driving/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(version, loadApp)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
