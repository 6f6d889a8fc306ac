// =============================================================================
// 📦 测试数据工厂 - Crew 定义与 Agent 配置
// =============================================================================
package fixtures

import "github.com/BaSui01/crewflow/agent"

// =============================================================================
// 🤖 Agent 配置工厂
// =============================================================================

// Researcher 返回测试用研究员配置，最多三轮迭代
func Researcher() agent.Config {
	return agent.Config{
		ID:            "researcher",
		Role:          "Researcher",
		Goal:          "Find facts",
		Backstory:     "You dig deep.",
		MaxIterations: 3,
	}
}

// =============================================================================
// 📄 Crew 定义（YAML）
// =============================================================================

// PlainCrewYAML 单任务顺序 Crew，输入变量 {topic}
const PlainCrewYAML = `name: plain
process: sequential
agents:
  - id: writer
    role: Writer
    goal: Write clearly
tasks:
  - name: write
    description: Write about {topic}
    expected_output: One paragraph
    agent: writer
`

// ReviewedCrewYAML 任务输出需要人工确认
const ReviewedCrewYAML = `name: reviewed
process: sequential
agents:
  - id: writer
    role: Writer
    goal: Write clearly
tasks:
  - name: draft
    description: Write about {topic}
    expected_output: One paragraph
    agent: writer
    human_input: true
`

// ResearchCrewYAML 两个任务，write 依赖 research 的输出
const ResearchCrewYAML = `name: research
process: sequential
agents:
  - id: researcher
    role: Senior Researcher
    goal: Find facts
  - id: writer
    role: Writer
    goal: Write clearly
tasks:
  - name: research
    description: Research {topic}
    expected_output: Bullet points
    agent: researcher
  - name: write
    description: Write an article
    expected_output: One paragraph
    agent: writer
    context: [research]
`

// InvalidCrewYAML 没有任务，无法通过校验
const InvalidCrewYAML = `name: broken
process: sequential
tasks: []
`
