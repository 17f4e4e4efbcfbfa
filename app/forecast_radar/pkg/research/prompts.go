package research

// 调研各阶段的 prompt 模板，按 fmt 占位符顺序填充

const classifyPrompt = `You are a research librarian. Classify the forecasting question below into one primary field of knowledge (for example: geopolitics, economics, technology, public health, climate, sports, elections).

Question: %s
Field hint from the question author: %s

Answer in exactly this format:
Field: <one or two words>
Rationale: <one sentence>`

const entitiesPrompt = `You are preparing background research for a forecasting question in the field of %s.

Question: %s

List the organizations, people, countries, or other entities whose actions will most influence how this question resolves. Return at most %d entities, most important first, one per line as a bulleted list ("- name"). Do not add commentary.`

const analyzePrompt = `You are an analyst briefing a forecaster on the question: %s
Field: %s

Describe the entity "%s": its stated goals, its track record on similar matters, its likely behaviour before the question resolves, and its relationships with other relevant actors. Keep it under 200 words.`

const newsPrompt = `You are a news researcher supporting a forecaster.

Question: %s
Field: %s
Key entities: %s
Today: %s

%s
List the %d most relevant recent news developments (from the last %d days where possible) as a numbered list. Each item: a short headline, a dash, then one or two sentences on why it matters for the question. If you know of nothing recent, say so in a single numbered item.`

const searchContextHeader = "Search results retrieved for this question:\n"

const synthesizePrompt = `You are a senior research analyst writing a briefing for a superforecaster. Do not produce a forecast yourself.

Question: %s
Resolution criteria: %s
Fine print: %s

Field: %s

Entity analysis:
%s

Recent news:
%s

Write a concise research report that covers: the current status quo, the key drivers and actors, relevant base rates, recent developments, and the main uncertainties that could move the outcome either way.`

const directSystemPrompt = `You are an assistant to a superforecaster. The superforecaster will give you a question they intend to forecast on. To be a great assistant, you generate a concise but detailed rundown of the most relevant news, including whether the question would resolve Yes or No based on current information. You do not produce forecasts yourself.`
