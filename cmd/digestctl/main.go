// digestctl 是 TopicDigest 的运维命令行：手动触发投递、采集新闻、管理订阅
package main

import (
	"os"

	"github.com/LJTian/TopicDigest/internal/app"
	"github.com/LJTian/TopicDigest/internal/config"
	"github.com/LJTian/TopicDigest/internal/logging"
)

func main() {
	root := newRootCmd(os.Stdout, func() (*app.App, error) {
		cfg := config.Load()
		return app.New(cfg, logging.New(cfg.LogLevel))
	})
	if err := root.Execute(); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
