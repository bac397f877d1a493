package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

var conf *Conf

// SourceConf 自定义瓦片源
type SourceConf struct {
	Name        string `toml:"name"`
	DisplayName string `toml:"displayName"`
	URL         string `toml:"url"`
	Extension   string `toml:"extension"`
	Min         int    `toml:"min"`
	Max         int    `toml:"max"`
	Attribution string `toml:"attribution"`
}

// LayerConf 导出图层的合成设置
type LayerConf struct {
	Source      string `toml:"source"`
	Enabled     bool   `toml:"enabled"`
	Opacity     int    `toml:"opacity"`
	Blend       string `toml:"blend"`
	ExportMode  string `toml:"exportMode"`
	LodMode     string `toml:"lodMode"`
	SelectZooms []int  `toml:"selectZooms"`
}

// OutputConf 输出目标
type OutputConf struct {
	Type        string `toml:"type"`
	Path        string `toml:"path"`
	Format      string `toml:"format"`
	JpegQuality int    `toml:"jpegQuality"`
}

type Conf struct {
	App struct {
		Title          string `toml:"title"`
		LogDir         string `toml:"logDir"`
		OutputTerminal bool   `toml:"outputTerminal"`
	} `toml:"app"`
	Task struct {
		Name        string `toml:"name"`
		Description string `toml:"description"`
		Min         int    `toml:"min"`
		Max         int    `toml:"max"`
		Strategy    string `toml:"strategy"`
		Workers     int    `toml:"workers"`
	} `toml:"task"`
	Extent struct {
		MinLon  float64 `toml:"minLon"`
		MinLat  float64 `toml:"minLat"`
		MaxLon  float64 `toml:"maxLon"`
		MaxLat  float64 `toml:"maxLat"`
		Geojson string  `toml:"geojson"`
	} `toml:"extent"`
	Fetch struct {
		Workers      int `toml:"workers"`
		Retries      int `toml:"retries"`
		RetryDelay   int `toml:"retryDelay"`   // 毫秒
		RequestDelay int `toml:"requestDelay"` // 毫秒
		Timeout      int `toml:"timeout"`      // 秒
	} `toml:"fetch"`
	Sources []SourceConf `toml:"sources"`
	Layers  []LayerConf  `toml:"layers"`
	Outputs []OutputConf `toml:"outputs"`
}

// InitConf 初始化配置
func InitConf(cfgFile string) {
	if cfgFile == "" {
		cfgFile = "conf.toml"
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("config file(%s) not exist", cfgFile)
		os.Exit(1)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	// 设置默认值
	viper.SetDefault("app.title", "GSI Tiler")
	viper.SetDefault("app.logDir", "logs")
	viper.SetDefault("app.outputTerminal", true)
	viper.SetDefault("task.name", "Tile Export")
	viper.SetDefault("task.strategy", StrategyPerZoom)
	viper.SetDefault("task.workers", 4)
	viper.SetDefault("fetch.workers", 8)
	viper.SetDefault("fetch.retries", 3)
	viper.SetDefault("fetch.retryDelay", 1000)
	viper.SetDefault("fetch.requestDelay", 100)
	viper.SetDefault("fetch.timeout", 30)

	err = viper.Unmarshal(&conf)
	if err != nil {
		panic("配置文件解析失败")
	}
}
