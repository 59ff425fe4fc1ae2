// Package agent 实现计划、选择、执行、复核四阶段的编排引擎。
//
// 一次运行从 Planner 开始，按固定优先级的路由表在 Planner、Selector 与
// Executor 之间循环，直到满足终止条件后由 Answer Synthesizer 生成回答；
// ask_user 与敏感操作复核是仅有的两个挂起点，挂起时现场写入检查点存储，
// 恢复时从同一个决策点继续。
package agent
