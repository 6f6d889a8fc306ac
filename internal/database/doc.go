// 版权所有 2024 CrewFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的 SQL 连接池管理，作为状态存储 SQL 后端的底座。

# 概述

Open 根据 config.StateConfig 选择方言（单文件 SQLite、PostgreSQL、MySQL），
PoolManager 统一管理连接池参数、后台健康检查与事务重试。

# 核心类型

  - PoolManager：持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：sqlite 使用纯 Go 的 glebarez/sqlite，无需 CGO。
  - 健康检查：后台定时 PingContext 探活，Close 时退出。
  - 事务管理：WithTransactionRetry 在死锁、序列化失败等场景下指数退避重试。
*/
package database
