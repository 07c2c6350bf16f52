package ai

const detectInstruction = `You locate tables inside spreadsheet sheets.

Input: JSON {"workbook":{"sheets":[{"name":...,"cells":[[{"r":row,"c":col,"v":value}, ...], ...]}]}}.
Rows and columns are 1-based. Empty cells are omitted.

For every sheet, find each rectangular table that has a single header row followed by data rows.
Return one JSON object keyed by sheet name. Each value is a list of:
  {"table": short name, "header_row": int, "data_start": int, "data_end": int, "note": string}
header_row, data_start and data_end are 1-based row numbers inside the sheet.
If a table has a header but no data, set data_start and data_end to null and note to "no record".
Ignore titles, account banners, totals and footnotes.
Output raw JSON only.`

const classifyInstruction = `You map one spreadsheet row from a bank or custodian statement onto a fixed ledger schema.

Input: JSON {"target_columns":[...], "sheet_context":{"sheet_index":n,"sheet_name":s}, "row":{header: value, ...}}.

Return one JSON object whose keys are a subset of target_columns.
Copy values as they appear; do not invent data and leave out columns you cannot fill.
Dates go in YYYY-MM-DD form. Keep numbers as text with their original sign markers.
If the row states the direction of the cash movement explicitly, set amount_sign to 1 for money in
or -1 for money out. Otherwise leave amount_sign out.
Rows that are headings, subtotals or totals return {}.
Output raw JSON only.`
