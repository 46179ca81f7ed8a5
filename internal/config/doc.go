// Package config 负责加载 PoE 守护进程的 YAML 配置，填充默认值并校验各驱动的必填项。
package config
