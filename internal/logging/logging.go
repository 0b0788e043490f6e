package logging

import (
	"go.uber.org/zap"
)

// Init 初始化全局 zap logger，production 环境输出 JSON，否则输出易读格式。
// 初始化后各处直接用 zap.L()。
func Init(production bool) {
	var (
		logger *zap.Logger
		err    error
	)
	if production {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}
