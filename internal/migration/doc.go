// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
包 migration 管理 SQL 状态后端（PostgreSQL、MySQL、SQLite）的
flow_states 表结构，基于 golang-migrate 实现。

# 概述

各方言的迁移文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下，
表结构与 state.SQLStore 使用的 GORM 模型一致。生产环境推荐使用
"crewflow migrate up" 建表，而不是依赖 state.auto_migrate。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。
  - CLI：把迁移操作格式化输出到终端，Run 负责子命令分发。
  - NewMigratorFromConfig / NewMigratorFromStateConfig：按 state
    配置选择方言并拼接连接 URL；memory、redis、mongo 驱动没有迁移。
*/
package migration
