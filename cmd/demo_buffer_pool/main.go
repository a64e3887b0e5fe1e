package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/zhukovaskychina/xmysql-bufferpool/logger"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/conf"
	"github.com/zhukovaskychina/xmysql-bufferpool/server/innodb/manager"
)

// Run using
//  go run ./cmd/demo_buffer_pool <command> <flags>

var (
	configFlag = cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path of the ini configuration file",
		Value:   "conf/my.ini",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Usage: "overrides innodb.data_dir",
	}
)

func main() {
	app := &cli.App{
		Name:  "demo_buffer_pool",
		Usage: "drives an InnoDB style buffer pool over a LevelDB backed tablespace store",
		Flags: []cli.Flag{
			&configFlag,
			&dataDirFlag,
		},
		Commands: []*cli.Command{
			&RunCmd,
			&DropCmd,
			&InfoCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 读取配置并初始化日志
func loadConfig(ctx *cli.Context) (*conf.Cfg, *manager.BufferPoolConfig, error) {
	cfg := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: ctx.String(configFlag.Name)})
	if dir := ctx.String(dataDirFlag.Name); dir != "" {
		cfg.InnodbDataDir = dir
	}
	if err := logger.InitLogger(cfg.LogConfig()); err != nil {
		return nil, nil, err
	}
	mc, err := cfg.ManagerConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, mc, nil
}
