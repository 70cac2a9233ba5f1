// Package xconf 基于 koanf 的配置加载。
//
// 支持 YAML（.yaml/.yml）与 JSON（.json），按扩展名识别；
// 字节数据需显式指定格式。
//
//	cfg, err := xconf.New("xdlockctl.yaml", xconf.WithDefaults(map[string]any{
//		"mongo.database": "locks",
//	}))
//	var mc MongoConfig
//	err = cfg.Unmarshal("mongo", &mc)
//
// 默认值先于文件加载，文件中的同名键覆盖默认值；Reload 时同样先应用默认值。
// Unmarshal 使用 mapstructure，允许弱类型转换（"8080" → 8080，"5s" → time.Duration）。
//
// Client() 返回当前 koanf 实例快照，Reload 后旧指针仍可用但数据过期。
package xconf
