package main

// Version 程序版本，也是下载请求的User-Agent标识
const Version = "0.1.0"

func main() {
	// 初始化控制台
	InitFlag()
	// 开始安全退出任务
	InitSafeExit()
	// 初始化配置
	InitConf(configPath)
	// 初始化日志
	InitLog()
	// 开始任务
	InitTask()
}
