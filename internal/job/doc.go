// Package job 将编排运行放入队列异步执行：作业持久化、队列投递、
// 工作协程处理、失败重试以及启动时的滞留作业恢复。
package job
