// Package config 负责加载 Nara 钱包服务的 JSON 配置、环境变量中的密钥以及 YAML 资产定义。
package config
