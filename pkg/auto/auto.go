// Package auto 提供屏幕采集和输入模拟共用的坐标换算
// 具体功能分布在子包中：screen, input, navigate。
package auto
