package main

import (
	"os"

	"seo-metrics-etl/cli"
	"seo-metrics-etl/utils"
)

var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		utils.NewLogger().Error("%v", err)
		os.Exit(1)
	}
}
