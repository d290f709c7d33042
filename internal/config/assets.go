package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"Nara-Wallet/internal/units"
)

// assetFile 是额外资产定义文件的结构。
type assetFile struct {
	Assets []units.Asset `yaml:"assets"`
}

// LoadAssets 读取 YAML 资产定义并构建资产目录。路径为空时只返回内置资产。
func LoadAssets(path string) (*units.Catalog, error) {
	if path == "" {
		return units.Default(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取资产定义失败: %w", err)
	}
	var file assetFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析资产定义失败: %w", err)
	}
	catalog, err := units.NewCatalog(file.Assets...)
	if err != nil {
		return nil, fmt.Errorf("构建资产目录失败: %w", err)
	}
	return catalog, nil
}
