package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BuildInfo is injected by main at link time
type BuildInfo struct {
	Version   string
	BuildTime string
}

var (
	build   BuildInfo
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "personachat",
	Short: "Persona chat relay for a personal site",
	Long: `personachat serves POST /api/chat for a personal-site chat widget.
Each message is rate limited per client, sent to an OpenAI-compatible
chat-completions provider behind a fixed persona prompt, and the reply is
relayed back with its token usage.`,
	SilenceUsage: true,
	RunE:         runServe, // 默认直接启动服务
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(info BuildInfo) error {
	build = info
	rootCmd.Version = fmt.Sprintf("%s (built %s)", info.Version, info.BuildTime)
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局标志
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.String("data-dir", "./data", "data directory")
	flags.String("log-dir", "./logs", "log directory")
	flags.String("host", "0.0.0.0", "server host")
	flags.Int("port", 3000, "server port")
	flags.String("mode", "release", "server mode (debug/release/test)")

	// 绑定到viper
	viper.BindPFlag("storage.data_dir", flags.Lookup("data-dir"))
	viper.BindPFlag("storage.logs_dir", flags.Lookup("log-dir"))
	viper.BindPFlag("server.host", flags.Lookup("host"))
	viper.BindPFlag("server.port", flags.Lookup("port"))
	viper.BindPFlag("server.mode", flags.Lookup("mode"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./data")
		viper.AddConfigPath("$HOME/.personachat")
	}

	// DASHSCOPE_API_KEY 等环境变量在每次请求时经由viper读取
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// 配置文件不存在时由 LoadOrCreate 写出默认文件
		if cfgFile == "" {
			viper.SetConfigFile("./config.yaml")
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
