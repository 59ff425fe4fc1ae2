// Package config 负责加载编排服务的配置：YAML/JSON 文件、环境变量覆盖以及默认值，
// 统一由 viper 解析为强类型结构体。
package config
