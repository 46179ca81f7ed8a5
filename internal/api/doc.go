// Package api 通过 chi 路由暴露存证注册表的 REST 接口，负责请求解码、
// 错误码到 HTTP 状态码的映射以及认证、限流、指标等中间件的装配。
package api
